// Package api serves the catalog over HTTP.
//
//	GET /v1/environments/{env}/records?kind=&since=&until=&limit=
//	GET /v1/environments/{env}/records/{ref}
//	GET /v1/environments/{env}/stats
//	GET /v1/environments/{env}/verify
//	GET /healthz
//	GET /metrics
//
// {env} is an environment name or alias; "all" is accepted everywhere except
// single-record lookups. The API never mutates the catalog.
package api

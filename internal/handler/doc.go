// Package handler contains the HTTP request handlers of the auth API.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, an http.HandlerFunc: a function with the right
// signature. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse and validate the incoming request (path params, JSON body, cookies)
// 2. Call the service layer
// 3. Write the HTTP response (status code, cookies, JSON body)
//
// Handlers hold no business rules. Every decision about credentials,
// tokens or sessions is made in internal/service; this package only
// translates between HTTP and those calls.
package handler

// Package server hosts the Fiber HTTP surface of the download cache and the
// shared upstream http.Client. Handlers only talk to a Fetcher, so tests can
// run the full route table against a real coordinator or a stub. Operator
// endpoints live under /-/ and never trigger downloads.
package server

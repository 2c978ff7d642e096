// Package providers is the compiled-in catalogue of OAuth providers the bridge
// can authenticate against.
//
// The table is fixed: providers are not discovered or registered at runtime.
// Token endpoints come from golang.org/x/oauth2/google and
// golang.org/x/oauth2/github. Google's authorization endpoint is pinned to the
// v2 URL.
package providers

// Package credentials supplies OAuth client credentials per provider.
//
// Credentials come from two places:
//
//   - oauth_credentials.json in the state directory, written by
//     `harbor-bridge credentials set` or the oauth_set_credentials tool
//   - HARBOR_<PROVIDER>_CLIENT_ID / HARBOR_<PROVIDER>_CLIENT_SECRET
//     environment variables, which take precedence over the file
//
// Store implements oauth.CredentialStore. A Watcher reloads the file when it
// is edited by another process.
package credentials

// Package xclient is the upstream adapter for the X GraphQL web API. It
// resolves handles to account ids and fetches recent posts, authenticating
// with browser session cookies.
package xclient

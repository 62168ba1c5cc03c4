// Package client is a thin HTTP client for the panel API, used by the
// bastion CLI. It wraps the JSON endpoints with typed methods and
// decodes the panel's error envelope into Go errors.
package client

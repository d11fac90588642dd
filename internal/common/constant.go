package common

// PasswordHeaderName carries the shared secret on content download requests.
const PasswordHeaderName = "X-File-Password"

// DefaultContentType is used for blobs created from text content.
const DefaultContentType = "text/plain; charset=utf-8"

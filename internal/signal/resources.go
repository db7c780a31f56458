package signal

// Resource names used as rate-limit and circuit-breaker keys.
const (
	ResourceAccounts     = "accounts"
	ResourceAttachments  = "attachments"
	ResourceContacts     = "contacts"
	ResourceDevices      = "devices"
	ResourceGeneral      = "general"
	ResourceGroups       = "groups"
	ResourceIdentities   = "identities"
	ResourceMessages     = "messages"
	ResourceProfiles     = "profiles"
	ResourceReactions    = "reactions"
	ResourceReceipts     = "receipts"
	ResourceSearch       = "search"
	ResourceStickerPacks = "sticker_packs"
)

// Request is a resource-scoped outbound REST call. The core never
// interprets Body or the response; it only routes by Resource through the
// rate limiter and circuit breaker.
type Request struct {
	Resource string
	Method   string
	Path     string
	Body     any
}

// Response is the opaque result of an outbound REST call.
type Response struct {
	StatusCode int
	Body       []byte
}

package medium

const (
	PlatformName = "medium"

	// TokenSecretName is the credential holding the integration token.
	TokenSecretName = "medium-integration-token"

	// MaxTags is the most tags Medium accepts on a post; extras are dropped.
	MaxTags = 5

	contentFormatMarkdown = "markdown"

	// UnknownPostID is recorded when an accepted post comes back without data.id.
	UnknownPostID = "unknown"

	maxErrorBody = 2000
)

// Publish statuses accepted by the posts endpoint.
const (
	StatusDraft    = "draft"
	StatusPublic   = "public"
	StatusUnlisted = "unlisted"
)

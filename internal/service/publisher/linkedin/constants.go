package linkedin

const (
	PlatformName = "linkedin"

	postsPath             = "/rest/posts"
	restliProtocolVersion = "2.0.0"
	feedURLPrefix         = "https://www.linkedin.com/feed/update/"
	authorURNPrefix       = "urn:li:person:"

	// UnknownPostID is recorded when an accepted post comes back without x-restli-id.
	UnknownPostID = "unknown"

	visibilityPublic     = "PUBLIC"
	feedDistributionMain = "MAIN_FEED"
	lifecyclePublished   = "PUBLISHED"

	// maxErrorBody bounds how much of a rejected response is kept in the outcome.
	maxErrorBody = 2000
)

package http

import (
	"github.com/docket-desk/internal/application/attachment"
	"github.com/docket-desk/internal/application/delivery"
	appmiddleware "github.com/docket-desk/internal/transport/http/middleware"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	Store     delivery.Store
	Publisher delivery.Publisher

	// Objects and AttachmentItems enable the document attachment routes.
	// Both must be set.
	Objects         attachment.ObjectStore
	AttachmentItems attachment.ItemStore

	// Verifier checks bearer tokens. When nil every request runs as a local
	// development admin.
	Verifier appmiddleware.TokenVerifier
}

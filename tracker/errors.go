package tracker

import (
	"github.com/hazyhaar/sitevisits/tracker/internal/acquire"
	"github.com/hazyhaar/sitevisits/tracker/internal/login"
)

var (
	// ErrAuthentication means the portal could not be brought to an
	// authenticated state.
	ErrAuthentication = login.ErrAuthentication

	// ErrSessionExpired means the report page asked for a login after the
	// session was accepted. errors.Is(err, ErrAuthentication) holds for it.
	ErrSessionExpired = acquire.ErrSessionExpired

	// ErrAcquisition means neither the API response nor the rendered table
	// yielded rows.
	ErrAcquisition = acquire.ErrAcquisition
)

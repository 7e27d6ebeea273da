package discord

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/hotline/admissions/internal/domain/shared"
)

// mapError converts a discordgo failure into the domain taxonomy.
// Unknown message and unknown channel become MESSAGE_NOT_FOUND; everything
// else, timeouts included, is EXTERNAL_UNAVAILABLE.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil {
			switch restErr.Message.Code {
			case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
				return shared.ErrMessageNotFound.Wrap(err)
			}
		}
		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return shared.ErrMessageNotFound.Wrap(err)
		}
	}
	return shared.ErrExternalUnavailable.Wrap(err)
}

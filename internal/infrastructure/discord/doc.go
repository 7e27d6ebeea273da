// Package discord binds the admission Platform and EventSource ports to a
// discordgo session.
package discord

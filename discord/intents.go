package discord

// Intent is a bitmask declaring which event categories the gateway
// may deliver to a session.
type Intent int

// Gateway intents.
const (
	IntentGuilds Intent = 1 << iota
	IntentGuildMembers
	IntentGuildBans
	IntentGuildEmojis
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
)

// Has reports whether all bits of other are set on i.
func (i Intent) Has(other Intent) bool {
	return i&other == other
}

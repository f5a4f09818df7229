package dispatch

// Reply texts.
const (
	textWelcome = "Hi 👋 welcome to SignalBot!"

	textHelp = "/start — begin\n" +
		"/help — this help\n" +
		"/adminbroadcast <text> — admin-only broadcast to subscribers"

	textSignalsInfo  = "You need an active subscription to receive signals ✅"
	textSubscribed   = "Your subscription is active 🎉"
	textContactAdmin = "Your message has been noted — direct forwarding to the admin arrives in a future version."

	textAccessDenied   = "⛔ You are not allowed to do that."
	textBroadcastUsage = "Example:\n/adminbroadcast Hello subscribers!"
	textMessageAck     = "Got your message — thank you!"
)

// Menu button labels and their callback payloads.
const (
	btnSignals      = "📈 Signals"
	btnSubscribe    = "🔔 Subscribe"
	btnContactAdmin = "📞 Contact admin"

	cbSignals      = "signals"
	cbSubscribe    = "subscribe"
	cbContactAdmin = "contact_admin"
)

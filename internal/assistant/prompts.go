package assistant

const (
	// WelcomeMessage opens every call; sent to the room when a session is
	// created, before any customer speech.
	WelcomeMessage = "Hi there! Welcome to the moving company assistant. " +
		"I can set up a new moving request for you, or look up an existing one. " +
		"To get started, could you tell me your name? " +
		"If you already have a request, just say \"look up my details\" with your 6-digit request ID."

	promptForRequestID = "I'll need your request ID to look up your details. " +
		"Could you please provide your 6-digit request ID?"

	lookupNotFound = "Moving request not found. Please check your request ID and try again."

	lookupFailed = "Sorry, I couldn't look that up right now. Please try again in a moment."

	intakeSaveFailed = "Sorry, I couldn't save your request just now. Please try again in a moment."
)

var intakeQuestions = []string{
	"Thanks! What email address should we use for your move?",
	"Got it. What's the best phone number to reach you?",
	"Is that a cell, home, or work number?",
	"What's the address you're moving from?",
	"Is that a house or an apartment?",
	"How many bedrooms are there?",
	"Where are you moving to?",
	"What's your preferred move date?",
	"Is that date flexible? (yes or no)",
	"Will you need us to transport a car as well? (yes or no)",
}

const (
	askCarYear  = "What year is the car?"
	askCarMake  = "What make is it?"
	askCarModel = "And the model?"
)

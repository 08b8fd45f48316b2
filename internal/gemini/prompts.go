package gemini

// DefaultSpinPrompt is the writer-stage instruction applied to freshly
// scraped page text.
const DefaultSpinPrompt = "Rewrite in modern English and simplify the tone. " +
	"Remove any special characters and numbers. Re-write the content in a way " +
	"that is easy to understand and follow. Do not format the content in any way."

// ReviewerSystemPrompt is the reviewer-stage system instruction applied to
// a draft (optionally concatenated with user feedback).
const ReviewerSystemPrompt = "You are an expert editor and reviewer. Refine " +
	"and critique the following text for clarity, coherence, and style. " +
	"Suggest improvements and rewrite as needed."

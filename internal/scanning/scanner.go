package scanning

// recognizePrompt is the shared prompt used by all vision providers. The
// output feeds the amount and merchant heuristics, which only assume plain
// text with line breaks.
const recognizePrompt = `You are transcribing a photo of a receipt or invoice.

Read every piece of text in the image, top to bottom, and return it as plain text with one receipt line per output line. Preserve numbers, decimal separators and currency amounts exactly as printed.

Important:
- Return ONLY the transcribed text
- Do not translate, summarize or interpret anything
- Do not add any commentary before or after the text
- Do not use markdown code blocks`

// Scanner turns a receipt image into recognized text.
type Scanner interface {
	// Recognize transcribes the text printed on a receipt image/PDF
	Recognize(imageData []byte, contentType string) (string, error)
	// Close closes the scanner and releases resources
	Close() error
}

package models

const (
	ContextBlockTemplate = "\n--- SOURCE: %s ---\n%s\n"
	UnknownSource        = "unknown"
	SystemPrompt         = "You are a helpful assistant."
)

var (
	SinglePromptTemplate = `You are a helpful AI assistant. Answer the question based strictly on the provided context.

Context:
%s

Question: %s

Guidelines:
1. Be concise and direct.
2. Do not hallucinate information not present in the context.`

	ComparePromptTemplate = `You are an expert Document Analyst. The user has provided multiple documents.
Your task is to COMPARE and CONTRAST the information found in them.

Context:
%s

Question: %s

Guidelines:
1. Explicitly mention which document each fact comes from.
2. Highlight contradictions or differences.
3. Use a Markdown table if comparing numerical data.`
)

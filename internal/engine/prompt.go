package engine

// LLM prompt templates. Data only, no logic.

// videoChatPrompt grounds the answer in retrieved transcript chunks.
// Args: context (chunks joined by a blank line), question.
const videoChatPrompt = `You are a helpful assistant.
Answer ONLY from the provided transcript context.
If the context is insufficient, just say you don't know.

Context: %s
Question: %s`

// NoContextAnswer is returned without calling the model when a video has no
// transcript to answer from (captions disabled or empty).
const NoContextAnswer = "I don't know. This video has no transcript available, so there is not enough information to answer."

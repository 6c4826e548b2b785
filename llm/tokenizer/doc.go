// Package tokenizer counts tokens in worker replies when the engine does not
// report usage. Known OpenAI models use tiktoken; everything else, and any
// tiktoken initialization failure, falls back to a character estimator.
package tokenizer

// Package generation produces grounded answers from retrieved context
// using a language model. The client wraps any llms.Model with rate
// limiting and bounded retries so transient provider failures do not
// surface on every hiccup.
package generation

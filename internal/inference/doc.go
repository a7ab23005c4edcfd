// Package inference is the only component that talks to the model provider.
//
// It exposes two halves behind one Gateway: synchronous transcription and
// translation calls through the Gemini SDK, and the provider's asynchronous
// batch surface through a REST client with retry and backoff. Provider
// failures are classified into the shared service error taxonomy so callers
// can distinguish transient faults from permanent ones without inspecting
// provider details.
package inference

// Package engine implements private event sourcing with reliable delivery.
//
// An Engine belongs to one agent. It signs and admits the agent's own
// events, validates events received from peers, parks entries whose
// dependencies are absent, and drives delivery until every recipient has
// acknowledged.
//
// Event lifecycle on a receiver:
//
//	unseen -> admitted          (validator returned Valid)
//	unseen -> awaiting          (validator returned Unresolved)
//	unseen -> rejected          (bad signature, bad content, Invalid)
//	awaiting -> admitted        (dependencies arrived, validator now Valid)
//	awaiting -> rejected        (dependencies arrived, validator now Invalid)
//
// Delivery uses two channels per recipient: a best-effort signal and a
// durable mailbox message. Each durable hand-off is recorded as a signed
// EventSentToRecipients; ScheduledTasks resends to recipients that have
// not acknowledged once the resend interval since the last record has
// passed. Acknowledgements are the only termination condition.
//
// Concurrency: every exported method holds the engine mutex for its whole
// run. Callbacks of application events run under that mutex and receive a
// View that reads the store without locking.
package engine

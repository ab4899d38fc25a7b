// Package mesh manages one peer connection per remote room member.
//
// A Session owns a single event loop. Signaling events, transport callbacks,
// user media toggles and the results of asynchronous steps (media
// acquisition, SDP creation, description application) are all applied on
// that loop, so Pool, Engine, Synchronizer and the chat log need no locks.
// Every asynchronous step resumes through a guard that re-validates the peer
// record by id and generation; results for records that left or were
// recreated are discarded.
package mesh

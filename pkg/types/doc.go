/*
Package types defines the core data structures shared by every component of
the fog dispatcher: the Task record and its state machine, the resource
estimate shape used by both the local ledger and the node registry, the
ordered Payload a divisible task's input must be, and the node descriptor
and wire types used to talk to remote worker nodes.

Types here are intentionally thin: validation lives in constructors
(NewTask), not scattered across callers, and the state machine transitions
described in spec §4.4 are enforced by the engine, not by this package --
Task itself is just a struct, so tests can construct one directly without
going through the engine.
*/
package types

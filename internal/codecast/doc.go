// Package codecast broadcasts live code edits within a room.
//
// A Room subscribes to the room's broadcast topic on a collab client and
// publishes code updates, cursor moves, chat and presence to the room's send
// topic. Inbound bodies are classified by their "type" field; anything
// unrecognized is delivered as EventUnknown with the raw body attached.
package codecast

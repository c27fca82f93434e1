// Package room defines the naming scheme for broadcast groups. A room name
// is either the shared "global" room or a "<kind>_<id>" address where the id
// is an opaque string owned by the membership application.
package room

import "strings"

// Global is joinable by every admitted connection.
const Global = "global"

type Kind int

const (
	// KindOther covers unknown prefixes; they are allowed for authenticated
	// users so new room types can ship without a server upgrade.
	KindOther Kind = iota
	KindGlobal
	KindUser
	KindRehearsal
	KindShow
)

const (
	userPrefix      = "user_"
	rehearsalPrefix = "rehearsal_"
	showPrefix      = "show_"
)

// Room is a parsed room name. ID is empty for the global room and for
// unknown kinds.
type Room struct {
	Name string
	Kind Kind
	ID   string
}

// Parse splits a room name on its kind prefix. Only the first matching
// prefix counts; the remainder is treated as an opaque id.
func Parse(name string) Room {
	switch {
	case name == Global:
		return Room{Name: name, Kind: KindGlobal}
	case strings.HasPrefix(name, userPrefix):
		return Room{Name: name, Kind: KindUser, ID: name[len(userPrefix):]}
	case strings.HasPrefix(name, rehearsalPrefix):
		return Room{Name: name, Kind: KindRehearsal, ID: name[len(rehearsalPrefix):]}
	case strings.HasPrefix(name, showPrefix):
		return Room{Name: name, Kind: KindShow, ID: name[len(showPrefix):]}
	default:
		return Room{Name: name, Kind: KindOther}
	}
}

// User returns the personal room of a user.
func User(id string) string { return userPrefix + id }

// Rehearsal returns the room shared by everyone involved in a rehearsal.
func Rehearsal(id string) string { return rehearsalPrefix + id }

// Show returns the room shared by everyone involved in a show.
func Show(id string) string { return showPrefix + id }

// IsRehearsal reports whether name addresses a rehearsal room.
func IsRehearsal(name string) bool { return strings.HasPrefix(name, rehearsalPrefix) }

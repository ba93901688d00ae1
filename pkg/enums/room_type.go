package enums

import "fmt"

// RoomType distinguishes the audience of a chat room.
type RoomType string

const (
	RoomTypePublic        RoomType = "public"
	RoomTypeVendorWorkers RoomType = "vendor_workers"
	RoomTypePrivate       RoomType = "private"
)

var validRoomTypes = []RoomType{
	RoomTypePublic,
	RoomTypeVendorWorkers,
	RoomTypePrivate,
}

// IsValid reports whether the value matches a known room type.
func (r RoomType) IsValid() bool {
	for _, candidate := range validRoomTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRoomType converts raw input into RoomType.
func ParseRoomType(value string) (RoomType, error) {
	for _, candidate := range validRoomTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid room type %q", value)
}

package instance

import "os"

// GetID returns an identifier for the running process, used in lock owners and logs.
func GetID() string {
	if id := os.Getenv("DISPATCH_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "instance-0"
}

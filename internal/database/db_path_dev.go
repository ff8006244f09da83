//go:build !prod

package database

// GetDefaultDBPath returns the database path for development mode.
// In dev mode, the database is stored in the working directory for easy inspection.
func GetDefaultDBPath() string {
	return "reactivator.db"
}

func IsDevelopment() bool {
	return true
}

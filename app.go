package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"reactivator/internal/imaging"
	"reactivator/internal/models"
	"reactivator/internal/services"
)

const maxUploadBytes = 20 << 20

// App struct
type App struct {
	ctx         context.Context
	AppSettings services.AppSettingsService
	Session     *services.SessionService
	dbClose     func() error
}

// NewApp creates a new App application struct
func NewApp() *App {
	return &App{}
}

// startup is called when the app starts. The context is saved
// so we can call the runtime methods
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
}

// shutdown is called when the app is closing. Clean up resources here.
func (a *App) shutdown(ctx context.Context) {
	if a.Session != nil {
		a.Session.Shutdown()
	}

	// Close database connection pool
	if a.dbClose != nil {
		if err := a.dbClose(); err != nil {
			runtime.LogError(ctx, fmt.Sprintf("failed to close database: %v", err))
		} else {
			runtime.LogInfo(ctx, "database closed")
		}
		a.dbClose = nil
	}
}

// SelectImage opens a native file picker and loads the chosen image into the session.
// An empty state is returned unchanged when the dialog is cancelled.
func (a *App) SelectImage() (services.SessionState, error) {
	if a.Session == nil {
		return services.SessionState{}, fmt.Errorf("session service not available")
	}
	path, err := runtime.OpenFileDialog(a.ctx, runtime.OpenDialogOptions{
		Title: "Select a photo",
		Filters: []runtime.FileFilter{{
			DisplayName: "Images (*.png;*.jpg;*.jpeg;*.webp;*.gif)",
			Pattern:     "*.png;*.jpg;*.jpeg;*.webp;*.gif",
		}},
	})
	if err != nil {
		return a.Session.State(), err
	}
	if path == "" {
		return a.Session.State(), nil
	}

	dataURL, err := readImageAsDataURL(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not read selected image")
		return a.Session.State(), err
	}
	return a.Session.UploadImage(dataURL)
}

// GetAppSettings returns the current application settings
func (a *App) GetAppSettings() (*models.AppSettings, error) {
	if a.AppSettings == nil {
		return nil, fmt.Errorf("app settings service not available")
	}
	return a.AppSettings.Get()
}

func readImageAsDataURL(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxUploadBytes {
		return "", fmt.Errorf("image is larger than %d MB", maxUploadBytes>>20)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("file is not an image")
	}
	return imaging.DataURL(mime, data), nil
}

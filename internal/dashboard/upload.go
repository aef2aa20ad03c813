package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/qualys/compliance-console/internal/models"
)

var (
	ErrNoFileSelected = errors.New("no file selected")
	ErrInvalidFile    = errors.New("only CSV and PDF files are accepted")
)

// AcceptedFile reports whether a file is a CSV or PDF by name suffix or
// media type.
func AcceptedFile(f models.UploadedFile) bool {
	name := strings.ToLower(f.Name)
	if strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".pdf") {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(f.Type)
	if err != nil {
		return false
	}
	return mediaType == "text/csv" || mediaType == "application/pdf"
}

// SelectFile validates the chosen file. A valid file enables the process
// control; anything else disables it and clears the selection.
func (a *App) SelectFile(name, mediaType string) ActionResult {
	f := models.UploadedFile{Name: name, Type: mediaType}

	a.mu.Lock()
	defer a.mu.Unlock()

	ctl := a.view.Controls[ControlProcessUpload]
	if !AcceptedFile(f) {
		a.view.SelectedFile = ""
		ctl.Disabled = true
		a.view.Statuses[StatusUpload] = &Status{Text: "Please select a CSV or PDF file", Kind: StatusError, Visible: true}
		return ActionResult{Action: ActionUpload, Target: name, Message: "Please select a CSV or PDF file", Err: ErrInvalidFile}
	}

	a.view.SelectedFile = name
	ctl.Disabled = false
	msg := fmt.Sprintf("Selected file: %s", name)
	a.view.Statuses[StatusUpload] = &Status{Text: msg, Kind: StatusSuccess, Visible: true}
	return ActionResult{Action: ActionUpload, OK: true, Target: name, Message: msg}
}

// ClearSelection forgets the selected file and disables the process control.
func (a *App) ClearSelection() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.view.SelectedFile = ""
	a.view.Controls[ControlProcessUpload].Disabled = true
}

// SubmitUpload sends the selected file's content to the backend.
func (a *App) SubmitUpload(ctx context.Context, body io.Reader) ActionResult {
	a.mu.Lock()
	name := a.view.SelectedFile
	if name == "" {
		a.view.Statuses[StatusUpload] = &Status{Text: "Please select a file first", Kind: StatusError, Visible: true}
		a.mu.Unlock()
		return ActionResult{Action: ActionUpload, Message: "Please select a file first", Err: ErrNoFileSelected}
	}
	a.view.Statuses[StatusUpload] = &Status{Text: "Processing transactions...", Kind: StatusProcessing, Visible: true}
	a.mu.Unlock()

	resp, err := a.backend.Upload(ctx, name, body)
	if err != nil {
		res := failed(ActionUpload, name, "Error processing transactions", err)
		a.setStatus(StatusUpload, StatusError, res.Message)
		return a.finish(ctx, res)
	}

	msg := "Successfully processed transactions"
	if resp != nil && resp.Message != "" {
		msg = resp.Message
	}

	a.mu.Lock()
	a.view.SelectedFile = ""
	a.view.Controls[ControlProcessUpload].Disabled = true
	a.view.Statuses[StatusUpload] = &Status{Text: msg, Kind: StatusSuccess, Visible: true}
	a.mu.Unlock()

	return a.finish(ctx, ActionResult{Action: ActionUpload, OK: true, Target: name, Message: msg})
}

package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/qualys/compliance-console/internal/auth"
	"github.com/qualys/compliance-console/internal/dashboard"
	"github.com/qualys/compliance-console/internal/reports"
	"github.com/qualys/compliance-console/internal/session"
)

type pageData struct {
	Title string
	User  string
	View  dashboard.View
	Open  *dashboard.Modal
}

type loginData struct {
	Title    string
	Username string
	Error    string
}

// sessionApp returns the console app behind the request's session.
func (s *Server) sessionApp(r *http.Request) (*dashboard.App, error) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return s.sessions.Get(r.Context(), claims.SessionID)
}

// pageApp is sessionApp for HTML routes: a lost session sends the operator
// back to the login page.
func (s *Server) pageApp(w http.ResponseWriter, r *http.Request) (*dashboard.App, bool) {
	app, err := s.sessionApp(r)
	if err == nil {
		return app, true
	}
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, auth.ErrUnauthorized) {
		s.auth.ClearCookie(w)
		http.Redirect(w, r, loginPath, http.StatusSeeOther)
		return nil, false
	}
	s.logger.Error("loading session failed", "error", err)
	http.Error(w, "session unavailable", http.StatusInternalServerError)
	return nil, false
}

func (s *Server) persist(ctx context.Context, app *dashboard.App) {
	if err := s.sessions.Save(ctx, app); err != nil {
		s.logger.Warn("persisting session failed", "session", app.State().SessionID, "error", err)
	}
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.FromRequest(r); err == nil {
		redirectHome(w, r)
		return
	}
	s.render(w, http.StatusOK, "login.html", loginData{Title: s.title})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")

	sess, err := s.auth.Login(r.Context(), username, password)
	if err != nil {
		data := loginData{Title: s.title, Username: username}
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrInvalidCredentials) {
			data.Error = "Invalid username or password"
		} else {
			s.logger.Error("login failed", "user", username, "error", err)
			data.Error = "The compliance backend rejected the sign-in"
			status = http.StatusBadGateway
		}
		s.render(w, status, "login.html", data)
		return
	}

	_, err = s.sessions.Create(r.Context(), dashboard.State{
		SessionID:   sess.Claims.SessionID,
		User:        sess.Claims.Username,
		AuthToken:   sess.BackendToken,
		CurrentPage: dashboard.PageDashboard,
	})
	if err != nil {
		s.logger.Error("creating session failed", "user", username, "error", err)
		s.render(w, http.StatusInternalServerError, "login.html", loginData{
			Title:    s.title,
			Username: username,
			Error:    "Could not start a session, please try again",
		})
		return
	}

	s.auth.SetCookie(w, sess)
	redirectHome(w, r)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if claims, ok := auth.GetClaims(r.Context()); ok {
		if err := s.sessions.Destroy(r.Context(), claims.SessionID); err != nil {
			s.logger.Warn("destroying session failed", "session", claims.SessionID, "error", err)
		}
	}
	s.auth.ClearCookie(w)
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
}

// index renders the current page. The page is loaded once per session;
// ?refresh=1 reloads it.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}

	var err error
	if r.URL.Query().Get("refresh") != "" {
		_, err = app.Refresh(r.Context())
	} else {
		_, err = app.EnsureLoaded(r.Context())
	}
	if errors.Is(err, dashboard.ErrClosed) {
		http.Redirect(w, r, loginPath, http.StatusSeeOther)
		return
	}

	s.renderApp(w, r, app)
}

func (s *Server) navigate(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}

	page := dashboard.PageID(chi.URLParam(r, "page"))
	if _, err := app.Navigate(r.Context(), page); err != nil {
		switch {
		case errors.Is(err, dashboard.ErrUnknownPage):
			http.NotFound(w, r)
		case errors.Is(err, dashboard.ErrClosed):
			http.Redirect(w, r, loginPath, http.StatusSeeOther)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	s.renderApp(w, r, app)
}

// renderApp persists the session, which also extends its TTL, and renders
// the console.
func (s *Server) renderApp(w http.ResponseWriter, r *http.Request, app *dashboard.App) {
	s.persist(r.Context(), app)
	view := app.Render()
	s.render(w, http.StatusOK, "layout.html", pageData{
		Title: s.title,
		User:  app.State().User,
		View:  view,
		Open:  view.OpenModal(),
	})
}

func (s *Server) closeModal(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}

	id := dashboard.ModalID(chi.URLParam(r, "modal"))
	if err := app.CloseModal(id, dashboard.ParseTrigger(r.FormValue("trigger"))); err != nil {
		http.NotFound(w, r)
		return
	}
	redirectHome(w, r)
}

func (s *Server) newPolicy(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}
	app.OpenPolicyForm()
	redirectHome(w, r)
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	app.SavePolicy(r.Context(), dashboard.PolicyForm{
		Title:        r.PostForm.Get("title"),
		Jurisdiction: r.PostForm.Get("jurisdiction"),
		Category:     r.PostForm.Get("category"),
		Content:      r.PostForm.Get("content"),
	})
	redirectHome(w, r)
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}
	app.DeletePolicy(r.Context(), chi.URLParam(r, "id"))
	redirectHome(w, r)
}

func (s *Server) viewPolicy(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}
	app.ViewPolicy(r.Context(), chi.URLParam(r, "id"))
	redirectHome(w, r)
}

func (s *Server) viewViolation(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}
	app.ViewViolation(r.Context(), chi.URLParam(r, "id"))
	redirectHome(w, r)
}

func (s *Server) viewReport(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}
	app.ViewReport(r.Context(), chi.URLParam(r, "id"))
	redirectHome(w, r)
}

func (s *Server) runScan(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}
	app.RunScan(r.Context())
	redirectHome(w, r)
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}
	app.GenerateReport(r.Context())
	redirectHome(w, r)
}

// downloadReport serves the report as an attachment. On failure the
// operator is sent back to the console, where the error notification shows.
func (s *Server) downloadReport(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}

	format, err := reports.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	export, res := app.DownloadReport(r.Context(), chi.URLParam(r, "id"), format)
	if !res.OK {
		redirectHome(w, r)
		return
	}

	w.Header().Set("Content-Type", export.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

func (s *Server) dismissNotification(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid notification id", http.StatusBadRequest)
		return
	}
	app.DismissNotification(id)
	redirectHome(w, r)
}

// upload validates the multipart "file" part and forwards it to the
// backend.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	app, ok := s.pageApp(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid upload", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		app.ClearSelection()
		app.SubmitUpload(r.Context(), http.NoBody)
		redirectHome(w, r)
		return
	}
	defer file.Close()

	if res := app.SelectFile(header.Filename, header.Header.Get("Content-Type")); res.OK {
		app.SubmitUpload(r.Context(), file)
	}
	redirectHome(w, r)
}

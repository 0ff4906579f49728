package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/providers"
	"github.com/pysugar/workspace-nexus/internal/workspace/tools"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	fileFields     = "id,name,mimeType,size,parents,webViewLink,modifiedTime"
)

// Drive implements tools.DriveCapabilities.
type Drive struct {
	client     *providers.Client
	base       string
	uploadBase string
}

type driveFile struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	Size         string   `json:"size"`
	Parents      []string `json:"parents"`
	WebViewLink  string   `json:"webViewLink"`
	ModifiedTime string   `json:"modifiedTime"`
}

func (f *driveFile) toFile() tools.DriveFile {
	out := tools.DriveFile{
		ID:        f.ID,
		Name:      f.Name,
		MimeType:  f.MimeType,
		ParentIDs: f.Parents,
		URL:       f.WebViewLink,
		Folder:    f.MimeType == folderMimeType,
	}
	if n, err := strconv.ParseInt(f.Size, 10, 64); err == nil {
		out.Size = n
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		out.ModifiedAt = t
	}
	return out
}

// driveQuery builds a Drive search expression; single quotes are escaped.
func driveQuery(p tools.SearchFilesParams) string {
	quote := func(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`) }
	parts := []string{"trashed = false"}
	if s := strings.TrimSpace(p.Query); s != "" {
		parts = append(parts, fmt.Sprintf("(name contains '%s' or fullText contains '%s')", quote(s), quote(s)))
	}
	if p.MimeType != "" {
		parts = append(parts, fmt.Sprintf("mimeType = '%s'", quote(p.MimeType)))
	}
	if p.FolderID != "" {
		parts = append(parts, fmt.Sprintf("'%s' in parents", quote(p.FolderID)))
	}
	return strings.Join(parts, " and ")
}

func (d *Drive) fileURL(id string) string {
	return d.base + "/files/" + providers.PathEscape(id)
}

func (d *Drive) SearchFiles(ctx context.Context, conn *models.WorkspaceConnection, p tools.SearchFilesParams) ([]tools.DriveFile, error) {
	limit := p.MaxResults
	if limit == 0 {
		limit = 25
	}
	q := url.Values{
		"q":        {driveQuery(p)},
		"pageSize": {strconv.Itoa(limit)},
		"fields":   {"files(" + fileFields + ")"},
	}
	var out struct {
		Files []driveFile `json:"files"`
	}
	if err := d.client.DoJSON(ctx, conn, http.MethodGet, d.base+"/files", q, nil, &out); err != nil {
		return nil, err
	}
	files := make([]tools.DriveFile, 0, len(out.Files))
	for i := range out.Files {
		files = append(files, out.Files[i].toFile())
	}
	return files, nil
}

func (d *Drive) GetFile(ctx context.Context, conn *models.WorkspaceConnection, fileID string) (*tools.DriveFile, error) {
	var f driveFile
	if err := d.client.DoJSON(ctx, conn, http.MethodGet, d.fileURL(fileID), url.Values{"fields": {fileFields}}, nil, &f); err != nil {
		return nil, err
	}
	out := f.toFile()
	return &out, nil
}

// UploadFile uses a multipart/related upload: JSON metadata, then content.
func (d *Drive) UploadFile(ctx context.Context, conn *models.WorkspaceConnection, p tools.UploadFileParams) (*tools.DriveFile, error) {
	mimeType := p.MimeType
	if mimeType == "" {
		mimeType = "text/plain"
	}
	meta := map[string]any{"name": p.Name, "mimeType": mimeType}
	if p.ParentID != "" {
		meta["parents"] = []string{p.ParentID}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := metaPart.Write(rawMeta); err != nil {
		return nil, err
	}
	contentPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {mimeType}})
	if err != nil {
		return nil, err
	}
	if _, err := contentPart.Write([]byte(p.Content)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	q := url.Values{"uploadType": {"multipart"}, "fields": {fileFields}}
	var f driveFile
	if err := d.client.Do(ctx, conn, http.MethodPost, d.uploadBase+"/files", q,
		"multipart/related; boundary="+mw.Boundary(), &body, &f); err != nil {
		return nil, err
	}
	out := f.toFile()
	return &out, nil
}

func (d *Drive) CreateFolder(ctx context.Context, conn *models.WorkspaceConnection, p tools.CreateFolderParams) (*tools.DriveFile, error) {
	meta := map[string]any{"name": p.Name, "mimeType": folderMimeType}
	if p.ParentID != "" {
		meta["parents"] = []string{p.ParentID}
	}
	var f driveFile
	if err := d.client.DoJSON(ctx, conn, http.MethodPost, d.base+"/files", url.Values{"fields": {fileFields}}, meta, &f); err != nil {
		return nil, err
	}
	out := f.toFile()
	return &out, nil
}

func (d *Drive) ShareFile(ctx context.Context, conn *models.WorkspaceConnection, p tools.ShareFileParams) error {
	role := p.Role
	if role == "" {
		role = "reader"
	}
	body := map[string]string{"type": "user", "role": role, "emailAddress": p.Email}
	q := url.Values{"sendNotificationEmail": {strconv.FormatBool(p.Notify)}}
	return d.client.DoJSON(ctx, conn, http.MethodPost, d.fileURL(p.FileID)+"/permissions", q, body, nil)
}

// MoveFile replaces all current parents with FolderID.
func (d *Drive) MoveFile(ctx context.Context, conn *models.WorkspaceConnection, p tools.MoveFileParams) (*tools.DriveFile, error) {
	current, err := d.GetFile(ctx, conn, p.FileID)
	if err != nil {
		return nil, err
	}
	q := url.Values{"addParents": {p.FolderID}, "fields": {fileFields}}
	if len(current.ParentIDs) > 0 {
		q.Set("removeParents", strings.Join(current.ParentIDs, ","))
	}
	var f driveFile
	if err := d.client.DoJSON(ctx, conn, http.MethodPatch, d.fileURL(p.FileID), q, map[string]any{}, &f); err != nil {
		return nil, err
	}
	out := f.toFile()
	return &out, nil
}

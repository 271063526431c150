package api

import (
	"errors"
	"net/http"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/auth"
	"github.com/aisu-os/core/pkg/containerfs"
	"github.com/aisu-os/core/pkg/manager"
	"github.com/aisu-os/core/pkg/runtime"
	"github.com/aisu-os/core/pkg/types"
	"github.com/aisu-os/core/pkg/vfs"
)

// fsService builds the per-user filesystem service after confirming the
// user's container is reachable and running.
func (s *Server) fsService(r *http.Request) (*vfs.Service, error) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		return nil, apperr.New(apperr.Unauthorized, "Not authenticated")
	}

	containerName := types.ContainerName(user.ID)

	state, err := s.runtime.Inspect(r.Context(), containerName)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return nil, apperr.New(apperr.Unavailable, "Container not found. Start the system from the terminal first.")
		}
		return nil, apperr.Wrap(err, apperr.Unavailable, "Container engine is not reachable")
	}
	if !state.Running {
		return nil, apperr.New(apperr.Unavailable, "Container is not running. Start the system from the terminal first.")
	}

	s.manager.TouchActivity(user.ID)

	fs := containerfs.New(s.runtime, containerName, manager.HomeBasePath, manager.ContainerUser)
	return vfs.NewService(user.ID, fs, s.store), nil
}

func (s *Server) handleFSTree(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tree, err := svc.GetTree(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleFSGetNode(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}
	node, err := svc.GetNode(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleFSList(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	listing, err := svc.ListDirectory(r.Context(), q.Get("path"), q.Get("sort_by"), q.Get("sort_dir"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

type createNodeRequest struct {
	ParentPath string `json:"parent"`
	Name       string `json:"name"`
	NodeType   string `json:"type"`
}

func (s *Server) handleFSCreateNode(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createNodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	node, err := svc.CreateNode(r.Context(), req.ParentPath, req.Name, types.NodeType(req.NodeType))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

type renameRequest struct {
	Path    string `json:"path"`
	NewName string `json:"new_name"`
}

func (s *Server) handleFSRename(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req renameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := svc.RenameNode(r.Context(), req.Path, req.NewName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type moveRequest struct {
	SourcePath     string `json:"src"`
	DestParentPath string `json:"destParent"`
}

func (s *Server) handleFSMove(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := svc.MoveNode(r.Context(), req.SourcePath, req.DestParentPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFSCopy(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := svc.CopyNode(r.Context(), req.SourcePath, req.DestParentPath)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type deleteRequest struct {
	Path      string `json:"path"`
	Permanent bool   `json:"permanent"`
}

func (s *Server) handleFSDelete(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req deleteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	node, err := svc.DeleteNode(r.Context(), req.Path, req.Permanent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

type bulkDeleteRequest struct {
	Paths     []string `json:"paths"`
	Permanent bool     `json:"permanent"`
}

func (s *Server) handleFSBulkDelete(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req bulkDeleteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, svc.BulkDelete(r.Context(), req.Paths, req.Permanent))
}

type bulkMoveRequest struct {
	Sources        []string `json:"sources"`
	DestParentPath string   `json:"dest"`
}

func (s *Server) handleFSBulkMove(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req bulkMoveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, svc.BulkMove(r.Context(), req.Sources, req.DestParentPath))
}

func (s *Server) handleFSListTrash(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	nodes, err := svc.ListTrash(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

type restoreRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleFSRestore(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req restoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := svc.RestoreNode(r.Context(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFSEmptyTrash(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := svc.EmptyTrash(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type desktopPositionsRequest struct {
	Positions []vfs.DesktopPosition `json:"positions"`
}

func (s *Server) handleFSDesktopPositions(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req desktopPositionsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	nodes, err := svc.UpdateDesktopPositions(r.Context(), req.Positions)
	if err != nil {
		writeError(w, err)
		return
	}
	if nodes == nil {
		nodes = []*vfs.NodeResponse{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleFSSearch(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	nodes, err := svc.Search(r.Context(), q.Get("q"), q.Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleFSReadFile(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	content, err := svc.ReadFile(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

type writeFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (s *Server) handleFSWriteFile(w http.ResponseWriter, r *http.Request) {
	svc, err := s.fsService(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req writeFileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	node, err := svc.WriteFile(r.Context(), req.Path, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

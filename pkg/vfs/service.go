package vfs

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/containerfs"
	"github.com/aisu-os/core/pkg/log"
	"github.com/aisu-os/core/pkg/metrics"
	"github.com/aisu-os/core/pkg/store"
	"github.com/aisu-os/core/pkg/types"
)

// Service composes the content filesystem (inside the container) with the
// metadata store (outside it). Handlers order work validate, then content,
// then metadata, so a failed content operation never leaves metadata behind.
type Service struct {
	userID uuid.UUID
	fs     ContentFS
	store  store.Store
	logger zerolog.Logger
}

// NewService creates a filesystem service bound to one user's container.
func NewService(userID uuid.UUID, fs ContentFS, st store.Store) *Service {
	return &Service{
		userID: userID,
		fs:     fs,
		store:  st,
		logger: log.WithComponent("vfs"),
	}
}

// toResponse converts a content node to the outward shape, with identity
// derived from (user, path).
func (s *Service) toResponse(n *containerfs.Node) *NodeResponse {
	resp := &NodeResponse{
		ID:        types.NodeID(s.userID, n.Path),
		Name:      n.Name,
		Path:      n.Path,
		NodeType:  n.Type,
		MimeType:  n.MimeType,
		Size:      n.Size,
		CreatedAt: floatToTime(n.Ctime),
		UpdatedAt: floatToTime(n.Mtime),
	}
	for _, child := range n.Children {
		resp.Children = append(resp.Children, s.toResponse(child))
	}
	return resp
}

func floatToTime(sec float64) time.Time {
	return time.Unix(int64(sec), int64((sec-float64(int64(sec)))*1e9)).UTC()
}

// statOr404 stats a path, mapping absence to NotFound.
func (s *Service) statOr404(ctx context.Context, path string) (*containerfs.Node, error) {
	node, err := s.fs.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, apperr.New(apperr.NotFound, "Node not found: %s", path)
	}
	return node, nil
}

// GetTree returns the full tree overlaid with desktop positions. Metadata
// for paths that no longer stat simply does not appear.
func (s *Service) GetTree(ctx context.Context) (*NodeResponse, error) {
	root, err := s.fs.Tree(ctx, "/", containerfs.DefaultTreeDepth)
	if err != nil {
		return nil, err
	}
	resp := s.toResponse(root)

	positions, err := s.store.ListNodeMetaWithDesktopPos(s.userID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to load desktop positions")
	}
	if len(positions) > 0 {
		byPath := make(map[string]*types.NodeMetadata, len(positions))
		for _, m := range positions {
			byPath[m.Path] = m
		}
		overlayPositions(resp, byPath)
	}

	metrics.FSOperationsTotal.WithLabelValues("tree", "ok").Inc()
	return resp, nil
}

func overlayPositions(node *NodeResponse, byPath map[string]*types.NodeMetadata) {
	if m, ok := byPath[node.Path]; ok {
		node.DesktopX = m.DesktopX
		node.DesktopY = m.DesktopY
	}
	for _, child := range node.Children {
		overlayPositions(child, byPath)
	}
}

// GetNode returns one node.
func (s *Service) GetNode(ctx context.Context, path string) (*NodeResponse, error) {
	node, err := s.statOr404(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.toResponse(node), nil
}

// ListDirectory lists the children of a directory sorted by the chosen key.
func (s *Service) ListDirectory(ctx context.Context, path, sortBy, sortDir string) (*DirectoryListing, error) {
	parent, err := s.statOr404(ctx, path)
	if err != nil {
		return nil, err
	}
	if parent.Type != string(types.NodeTypeDirectory) {
		return nil, apperr.New(apperr.ValidationFailed, "Not a directory: %s", path)
	}

	children, err := s.fs.List(ctx, path)
	if err != nil {
		return nil, err
	}

	sortNodes(children, sortBy, sortDir)

	listing := &DirectoryListing{
		Path:     path,
		Node:     s.toResponse(parent),
		Children: make([]*NodeResponse, 0, len(children)),
		Total:    len(children),
	}
	for _, child := range children {
		listing.Children = append(listing.Children, s.toResponse(child))
	}
	return listing, nil
}

func sortNodes(nodes []*containerfs.Node, sortBy, sortDir string) {
	less := func(a, b *containerfs.Node) bool {
		switch sortBy {
		case "size":
			return a.Size < b.Size
		case "created_at":
			return a.Ctime < b.Ctime
		case "updated_at":
			return a.Mtime < b.Mtime
		default:
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if sortDir == "desc" {
			return less(nodes[j], nodes[i])
		}
		return less(nodes[i], nodes[j])
	})
}

// CreateNode creates a file or directory under parent, silently deriving a
// unique name on collision.
func (s *Service) CreateNode(ctx context.Context, parentPath, name string, nodeType types.NodeType) (*NodeResponse, error) {
	if err := containerfs.ValidateName(name); err != nil {
		return nil, err
	}
	if nodeType != types.NodeTypeFile && nodeType != types.NodeTypeDirectory {
		return nil, apperr.New(apperr.ValidationFailed, "node_type must be file or directory")
	}

	parent, err := s.statOr404(ctx, parentPath)
	if err != nil {
		return nil, err
	}
	if parent.Type != string(types.NodeTypeDirectory) {
		return nil, apperr.New(apperr.ValidationFailed, "Parent is not a directory: %s", parentPath)
	}

	uniqueName, err := s.fs.GenerateUniqueName(ctx, parentPath, name)
	if err != nil {
		return nil, err
	}
	newPath := containerfs.JoinPath(parentPath, uniqueName)

	if nodeType == types.NodeTypeDirectory {
		err = s.fs.CreateDir(ctx, newPath)
	} else {
		err = s.fs.CreateFile(ctx, newPath)
	}
	if err != nil {
		metrics.FSOperationsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	metrics.FSOperationsTotal.WithLabelValues("create", "ok").Inc()

	node, err := s.statOr404(ctx, newPath)
	if err != nil {
		return nil, err
	}
	return s.toResponse(node), nil
}

// RenameNode renames a node in place. Unlike create/move/copy/restore,
// rename does not rename-around a collision: it fails with Conflict.
func (s *Service) RenameNode(ctx context.Context, path, newName string) (*MoveResult, error) {
	if path == "/" {
		return nil, apperr.New(apperr.ValidationFailed, "Cannot rename root")
	}
	if err := containerfs.ValidateName(newName); err != nil {
		return nil, err
	}

	if _, err := s.statOr404(ctx, path); err != nil {
		return nil, err
	}

	newPath := containerfs.JoinPath(containerfs.ParentPath(path), newName)
	if newPath != path {
		exists, err := s.fs.Exists(ctx, newPath)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, apperr.New(apperr.Conflict, "Name already exists: %s", newName)
		}
	}

	if err := s.fs.Rename(ctx, path, newPath); err != nil {
		metrics.FSOperationsTotal.WithLabelValues("rename", "error").Inc()
		return nil, err
	}
	metrics.FSOperationsTotal.WithLabelValues("rename", "ok").Inc()

	err := s.store.UpdateMeta(s.userID, func(tx store.MetaTx) error {
		return tx.RenamePrefix(path, newPath)
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to update metadata")
	}

	node, err := s.statOr404(ctx, newPath)
	if err != nil {
		return nil, err
	}
	return &MoveResult{OldPath: path, NewPath: newPath, Node: s.toResponse(node)}, nil
}

// MoveNode moves a node under destParent, deriving a unique name there.
func (s *Service) MoveNode(ctx context.Context, sourcePath, destParentPath string) (*MoveResult, error) {
	if sourcePath == "/" {
		return nil, apperr.New(apperr.ValidationFailed, "Cannot move root")
	}
	if destParentPath == sourcePath || strings.HasPrefix(destParentPath, sourcePath+"/") {
		return nil, apperr.New(apperr.ValidationFailed, "Cannot move into itself or its descendant")
	}

	if _, err := s.statOr404(ctx, sourcePath); err != nil {
		return nil, err
	}
	destParent, err := s.statOr404(ctx, destParentPath)
	if err != nil {
		return nil, err
	}
	if destParent.Type != string(types.NodeTypeDirectory) {
		return nil, apperr.New(apperr.ValidationFailed, "Destination is not a directory: %s", destParentPath)
	}

	baseName := containerfs.Basename(sourcePath)
	uniqueName, err := s.fs.GenerateUniqueName(ctx, destParentPath, baseName)
	if err != nil {
		return nil, err
	}

	// A colliding name is resolved by renaming the source in place first,
	// then moving, so the content lands under its final name in one hop.
	moveSource := sourcePath
	if uniqueName != baseName {
		renamed := containerfs.JoinPath(containerfs.ParentPath(sourcePath), uniqueName)
		if err := s.fs.Rename(ctx, sourcePath, renamed); err != nil {
			return nil, err
		}
		moveSource = renamed
	}

	newPath, err := s.fs.Move(ctx, moveSource, destParentPath)
	if err != nil {
		metrics.FSOperationsTotal.WithLabelValues("move", "error").Inc()
		return nil, err
	}
	metrics.FSOperationsTotal.WithLabelValues("move", "ok").Inc()

	err = s.store.UpdateMeta(s.userID, func(tx store.MetaTx) error {
		return tx.RenamePrefix(sourcePath, newPath)
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to update metadata")
	}

	node, err := s.statOr404(ctx, newPath)
	if err != nil {
		return nil, err
	}
	return &MoveResult{OldPath: sourcePath, NewPath: newPath, Node: s.toResponse(node)}, nil
}

// CopyNode copies a node (recursively for directories) under destParent.
// Metadata is not copied: the new paths start unannotated.
func (s *Service) CopyNode(ctx context.Context, sourcePath, destParentPath string) (*CopyResult, error) {
	if _, err := s.statOr404(ctx, sourcePath); err != nil {
		return nil, err
	}
	destParent, err := s.statOr404(ctx, destParentPath)
	if err != nil {
		return nil, err
	}
	if destParent.Type != string(types.NodeTypeDirectory) {
		return nil, apperr.New(apperr.ValidationFailed, "Destination is not a directory: %s", destParentPath)
	}

	baseName := containerfs.Basename(sourcePath)
	uniqueName, err := s.fs.GenerateUniqueName(ctx, destParentPath, baseName)
	if err != nil {
		return nil, err
	}

	newPath := containerfs.JoinPath(destParentPath, uniqueName)
	if err := s.fs.Copy(ctx, sourcePath, newPath); err != nil {
		metrics.FSOperationsTotal.WithLabelValues("copy", "error").Inc()
		return nil, err
	}
	metrics.FSOperationsTotal.WithLabelValues("copy", "ok").Inc()

	node, err := s.statOr404(ctx, newPath)
	if err != nil {
		return nil, err
	}
	return &CopyResult{SourcePath: sourcePath, NewPath: newPath, Node: s.toResponse(node)}, nil
}

// DeleteNode deletes a node, permanently or into the trash.
func (s *Service) DeleteNode(ctx context.Context, path string, permanent bool) (*NodeResponse, error) {
	if path == "/" {
		return nil, apperr.New(apperr.ValidationFailed, "Cannot delete root")
	}

	node, err := s.statOr404(ctx, path)
	if err != nil {
		return nil, err
	}
	resp := s.toResponse(node)

	if permanent {
		if err := s.fs.Delete(ctx, path); err != nil {
			metrics.FSOperationsTotal.WithLabelValues("delete", "error").Inc()
			return nil, err
		}
		err = s.store.UpdateMeta(s.userID, func(tx store.MetaTx) error {
			if err := tx.Delete(path); err != nil {
				return err
			}
			return tx.DeletePrefix(path + "/")
		})
		if err != nil {
			return nil, apperr.Wrap(err, apperr.Internal, "Failed to delete metadata")
		}
		metrics.FSOperationsTotal.WithLabelValues("delete", "ok").Inc()
		return resp, nil
	}

	trashedPath, err := s.fs.MoveToTrash(ctx, path)
	if err != nil {
		metrics.FSOperationsTotal.WithLabelValues("trash", "error").Inc()
		return nil, err
	}
	metrics.FSOperationsTotal.WithLabelValues("trash", "ok").Inc()

	now := time.Now().UTC()
	err = s.store.UpdateMeta(s.userID, func(tx store.MetaTx) error {
		if err := tx.RenamePrefix(path, trashedPath); err != nil {
			return err
		}
		meta, err := tx.Find(trashedPath)
		if err != nil {
			if !store.IsNotFound(err) {
				return err
			}
			meta = &types.NodeMetadata{
				Path:     trashedPath,
				Name:     containerfs.Basename(trashedPath),
				NodeType: types.NodeType(node.Type),
				MimeType: node.MimeType,
				Size:     node.Size,
			}
		}
		meta.IsTrashed = true
		meta.OriginalPath = path
		meta.TrashedAt = &now
		return tx.Upsert(meta)
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to record trash metadata")
	}

	resp.Path = trashedPath
	resp.Name = containerfs.Basename(trashedPath)
	resp.ID = types.NodeID(s.userID, trashedPath)
	resp.IsTrashed = true
	resp.OriginalPath = path
	resp.TrashedAt = &now
	return resp, nil
}

// BulkDelete deletes each path, collecting failures instead of aborting.
func (s *Service) BulkDelete(ctx context.Context, paths []string, permanent bool) *BulkResult {
	result := &BulkResult{Succeeded: []string{}, Failed: []BulkFailure{}}
	for _, path := range paths {
		if _, err := s.DeleteNode(ctx, path, permanent); err != nil {
			result.Failed = append(result.Failed, BulkFailure{Path: path, Error: apperr.Detail(err)})
			continue
		}
		result.Succeeded = append(result.Succeeded, path)
	}
	return result
}

// BulkMove moves each source under destParent, collecting failures.
func (s *Service) BulkMove(ctx context.Context, sources []string, destParentPath string) *BulkResult {
	result := &BulkResult{Succeeded: []string{}, Failed: []BulkFailure{}}
	for _, path := range sources {
		if _, err := s.MoveNode(ctx, path, destParentPath); err != nil {
			result.Failed = append(result.Failed, BulkFailure{Path: path, Error: apperr.Detail(err)})
			continue
		}
		result.Succeeded = append(result.Succeeded, path)
	}
	return result
}

// ListTrash lists trash contents, joining trash metadata for provenance.
func (s *Service) ListTrash(ctx context.Context) ([]*NodeResponse, error) {
	children, err := s.fs.List(ctx, containerfs.TrashDir)
	if apperr.IsKind(err, apperr.NotFound) {
		return []*NodeResponse{}, nil
	}
	if err != nil {
		return nil, err
	}

	metas, err := s.store.ListNodeMetaTrashed(s.userID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to load trash metadata")
	}
	byPath := make(map[string]*types.NodeMetadata, len(metas))
	for _, m := range metas {
		byPath[m.Path] = m
	}

	responses := make([]*NodeResponse, 0, len(children))
	for _, child := range children {
		resp := s.toResponse(child)
		resp.IsTrashed = true
		if m, ok := byPath[child.Path]; ok {
			resp.OriginalPath = m.OriginalPath
			resp.TrashedAt = m.TrashedAt
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// RestoreNode moves a trashed node back to its original parent, creating the
// parent if it vanished and deriving a unique name there.
func (s *Service) RestoreNode(ctx context.Context, trashedPath string) (*MoveResult, error) {
	if err := containerfs.ValidatePath(trashedPath); err != nil {
		return nil, err
	}

	meta, err := s.store.FindNodeMeta(s.userID, trashedPath)
	if err != nil || !meta.IsTrashed {
		return nil, apperr.New(apperr.NotFound, "Trashed node not found: %s", trashedPath)
	}
	if meta.OriginalPath == "" {
		return nil, apperr.New(apperr.ValidationFailed, "Original path unknown, cannot restore")
	}

	if _, err := s.statOr404(ctx, trashedPath); err != nil {
		return nil, err
	}

	targetParent := containerfs.ParentPath(meta.OriginalPath)
	parentExists, err := s.fs.Exists(ctx, targetParent)
	if err != nil {
		return nil, err
	}
	if !parentExists {
		if err := s.fs.CreateDir(ctx, targetParent); err != nil {
			return nil, err
		}
	}

	uniqueName, err := s.fs.GenerateUniqueName(ctx, targetParent, containerfs.Basename(meta.OriginalPath))
	if err != nil {
		return nil, err
	}
	newPath := containerfs.JoinPath(targetParent, uniqueName)

	if err := s.fs.Rename(ctx, trashedPath, newPath); err != nil {
		metrics.FSOperationsTotal.WithLabelValues("restore", "error").Inc()
		return nil, err
	}
	metrics.FSOperationsTotal.WithLabelValues("restore", "ok").Inc()

	err = s.store.UpdateMeta(s.userID, func(tx store.MetaTx) error {
		if err := tx.Delete(trashedPath); err != nil {
			return err
		}
		return tx.DeletePrefix(trashedPath + "/")
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to clear trash metadata")
	}

	node, err := s.statOr404(ctx, newPath)
	if err != nil {
		return nil, err
	}
	return &MoveResult{OldPath: trashedPath, NewPath: newPath, Node: s.toResponse(node)}, nil
}

// EmptyTrash purges trash content and metadata, returning the child count.
func (s *Service) EmptyTrash(ctx context.Context) (*EmptyTrashResult, error) {
	count, err := s.fs.EmptyTrash(ctx)
	if err != nil {
		return nil, err
	}

	err = s.store.UpdateMeta(s.userID, func(tx store.MetaTx) error {
		_, derr := tx.DeleteAllTrashed()
		return derr
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to clear trash metadata")
	}

	return &EmptyTrashResult{Deleted: count}, nil
}

// UpdateDesktopPositions upserts desktop coordinates per entry, skipping
// paths that no longer exist, and returns the updated nodes. Each entry is
// written in its own metadata transaction; entries stored before an error
// stay stored.
func (s *Service) UpdateDesktopPositions(ctx context.Context, positions []DesktopPosition) ([]*NodeResponse, error) {
	var updated []*NodeResponse

	for _, pos := range positions {
		if err := containerfs.ValidatePath(pos.Path); err != nil {
			return nil, err
		}

		node, err := s.fs.Stat(ctx, pos.Path)
		if err != nil {
			return nil, err
		}
		if node == nil {
			continue
		}

		x, y := pos.X, pos.Y
		err = s.store.UpdateMeta(s.userID, func(tx store.MetaTx) error {
			meta, ferr := tx.Find(pos.Path)
			if ferr != nil {
				if !store.IsNotFound(ferr) {
					return ferr
				}
				meta = &types.NodeMetadata{
					Path:     pos.Path,
					Name:     containerfs.Basename(pos.Path),
					NodeType: types.NodeType(node.Type),
					MimeType: node.MimeType,
					Size:     node.Size,
				}
			}
			meta.DesktopX = &x
			meta.DesktopY = &y
			return tx.Upsert(meta)
		})
		if err != nil {
			return nil, apperr.Wrap(err, apperr.Internal, "Failed to store desktop position")
		}

		resp := s.toResponse(node)
		resp.DesktopX = &x
		resp.DesktopY = &y
		updated = append(updated, resp)
	}

	return updated, nil
}

// Search finds nodes whose name contains the query, bounded at 50 results.
func (s *Service) Search(ctx context.Context, query, scope string) ([]*NodeResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.ValidationFailed, "Search query must not be empty")
	}
	if scope == "" {
		scope = "/"
	}

	nodes, err := s.fs.Search(ctx, query, scope)
	if err != nil {
		return nil, err
	}

	responses := make([]*NodeResponse, 0, len(nodes))
	for _, n := range nodes {
		responses = append(responses, s.toResponse(n))
	}
	return responses, nil
}

// ReadFile reads a text file through the content side.
func (s *Service) ReadFile(ctx context.Context, path string) (*containerfs.FileContent, error) {
	return s.fs.ReadFile(ctx, path, containerfs.DefaultMaxReadSize)
}

// WriteFile writes a text file through the content side.
func (s *Service) WriteFile(ctx context.Context, path, content string) (*NodeResponse, error) {
	if err := s.fs.WriteFile(ctx, path, content); err != nil {
		return nil, err
	}
	node, err := s.statOr404(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.toResponse(node), nil
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.logger.Error("health: database ping failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports the caller's counts when X-User-ID is set, global counts otherwise.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), r.Header.Get(UserHeader))
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// handleUpload ingests every file of the multipart "files" field. A failing file is
// reported in its result and does not stop the others.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		s.respondError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	results := make([]models.UploadResult, 0, len(files))
	for _, fh := range files {
		res := models.UploadResult{Filename: fh.Filename}
		content, err := readPart(fh)
		if err == nil {
			doc, ingestErr := s.svc.IngestBytes(r.Context(), userID, fh.Filename, content)
			if doc != nil {
				res.FileID, res.Status = doc.FileID, doc.Status
			}
			err = ingestErr
		}
		if err != nil {
			_, res.Code = errorCode(err)
			res.Error = err.Error()
			s.logger.Warn("upload failed",
				zap.String("user_id", userID),
				zap.String("filename", fh.Filename),
				zap.Error(err))
		}
		results = append(results, res)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.Documents(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Document(r.Context(), userFrom(r.Context()), chi.URLParam(r, "fileID"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, fileID := userFrom(r.Context()), chi.URLParam(r, "fileID")
	s.logger.Debug("delete document request", zap.String("user_id", userID), zap.String("file_id", fileID))
	existed, err := s.svc.Delete(r.Context(), userID, fileID)
	if err != nil {
		s.logger.Error("deletion failed", zap.String("user_id", userID), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"file_id": fileID, "deleted": existed})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	size, err := s.svc.Rebuild(r.Context(), userID)
	if err != nil {
		s.logger.Error("rebuild failed", zap.String("user_id", userID), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true, "index_size": size})
}

func decodeQuery(r *http.Request) (models.QueryRequest, error) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.New("invalid request body")
	}
	return req, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	answer, err := s.svc.Query(r.Context(), userFrom(r.Context()), req)
	if err != nil {
		s.logger.Error("query failed", zap.String("user_id", userFrom(r.Context())), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	turns, err := s.svc.History(r.Context(), userFrom(r.Context()), limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"history": turns})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearHistory(r.Context(), userFrom(r.Context())); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleDeleteUserData(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteUserData(r.Context(), userFrom(r.Context())); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

package httpserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/dmitrijs2005/devsync/internal/common"
	"github.com/dmitrijs2005/devsync/internal/server/access"
	"github.com/dmitrijs2005/devsync/internal/server/services"
	"github.com/gin-gonic/gin"
)

type accessRequest struct {
	Password string `json:"password"`
}

type createRequest struct {
	UserID   string `json:"userId"`
	FileName string `json:"fileName"`
	Language string `json:"language"`
	Password string `json:"password"`
}

type saveRequest struct {
	Content *string `json:"content"`
}

type passwordRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listFiles(c *gin.Context) {
	list, err := s.files.ListByOwner(c.Request.Context(), c.Query("userId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) requestAccess(c *gin.Context) {
	var req accessRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	f, err := s.files.RequestAccess(c.Request.Context(), c.Param("id"), req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) createFile(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}
	f, err := s.files.Create(c.Request.Context(), services.CreateFileInput{
		UserID:   req.UserID,
		FileName: req.FileName,
		Language: req.Language,
		Password: req.Password,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) saveFile(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	changed, err := s.files.SaveContent(c.Request.Context(), c.Param("id"), *req.Content)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File saved successfully", "changed": changed})
}

func (s *Server) deleteFile(c *gin.Context) {
	if err := s.files.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File deleted successfully"})
}

func (s *Server) upload(c *gin.Context) {
	if s.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
	}

	if _, err := c.MultipartForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
	}

	userID := c.PostForm("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID is required"})
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}

	src, err := fh.Open()
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer src.Close()
	body, err := io.ReadAll(src)
	if err != nil {
		s.respondError(c, err)
		return
	}

	f, err := s.files.Upload(c.Request.Context(), services.UploadFileInput{
		UserID:      userID,
		Password:    c.PostForm("password"),
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        body,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) content(c *gin.Context) {
	text, err := s.files.Content(c.Request.Context(), c.Param("id"), c.GetHeader(common.PasswordHeaderName))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, common.DefaultContentType, []byte(text))
}

func (s *Server) updatePassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	f, err := s.files.UpdateSecret(c.Request.Context(), c.Param("id"), req.UserID, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) room(c *gin.Context) {
	s.rooms.ServeRoom(c.Writer, c.Request, c.Param("room"))
}

// statusFromError maps registry and gate errors to HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorAccessDenied):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFromError(err)
	body := gin.H{}

	switch status {
	case http.StatusNotFound:
		body["error"] = "File not found"
	case http.StatusUnauthorized:
		body["error"] = "Incorrect Password"
		var denied *access.DeniedError
		if errors.As(err, &denied) {
			body["passwordSupplied"] = denied.SecretSupplied
			if !denied.SecretSupplied {
				body["error"] = "Password required"
			}
		} else {
			body["error"] = "Not allowed"
		}
	case http.StatusBadRequest:
		body["error"] = err.Error()
	default:
		s.logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		body["error"] = "Internal server error"
	}
	c.JSON(status, body)
}

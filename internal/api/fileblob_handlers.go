package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/attachment"
	"github.com/echochat/echochat-server/internal/auth"
	"github.com/echochat/echochat-server/internal/httputil"
	"github.com/echochat/echochat-server/internal/media"
)

// FileBlobHandler serves the EncryptedFileBlob subsystem's HTTP surface (spec §3, §6): upload, metadata retrieval,
// and ciphertext-byte retrieval for both the dm_files and group_files surfaces. The server stores and relays these
// bytes without ever being able to read them; request bodies carry only material the uploader has already
// encrypted and per-recipient wrapped client-side.
type FileBlobHandler struct {
	blobs        attachment.Repository
	storage      media.StorageProvider
	maxSizeBytes int64
	log          zerolog.Logger
}

// NewFileBlobHandler constructs a FileBlobHandler.
func NewFileBlobHandler(blobs attachment.Repository, storage media.StorageProvider, maxSizeBytes int64, logger zerolog.Logger) *FileBlobHandler {
	return &FileBlobHandler{
		blobs:        blobs,
		storage:      storage,
		maxSizeBytes: maxSizeBytes,
		log:          logger.With().Str("handler", "fileblob").Logger(),
	}
}

type recipientKeyEntry struct {
	RecipientID string `json:"recipient_id"`
	WrappedKey  string `json:"wrapped_key"`
}

type fileBlobMeta struct {
	ID        string `json:"id"`
	Scope     string `json:"scope"`
	IV        string `json:"iv"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
	MimeHint  string `json:"mime_hint"`
	Pinned    bool   `json:"pinned"`
}

// uploadDMFile handles POST /api/v1/dm_files/upload.
func (h *FileBlobHandler) uploadDMFile(c fiber.Ctx) error {
	return h.upload(c, attachment.ScopeDM, "dm")
}

// uploadGroupFile handles POST /api/v1/group_files/upload.
func (h *FileBlobHandler) uploadGroupFile(c fiber.Ctx) error {
	return h.upload(c, attachment.ScopeGroup, "group")
}

// upload stores the ciphertext bytes attached as a multipart "ciphertext" field and inserts the blob row plus its
// per-recipient wrapped-key rows. The blob starts unpinned (ref_count = 0) until the caller confirms the message
// referencing it was actually sent, via Pin.
func (h *FileBlobHandler) upload(c fiber.Ctx, scope attachment.Scope, storagePrefix string) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}

	fh, err := c.FormFile("ciphertext")
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "missing ciphertext field in multipart form")
	}
	if fh.Size > h.maxSizeBytes {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput,
			fmt.Sprintf("ciphertext exceeds the maximum upload size of %d bytes", h.maxSizeBytes))
	}

	iv := c.FormValue("iv")
	sha256Hex := c.FormValue("sha256")
	if iv == "" || sha256Hex == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "iv and sha256 are required")
	}
	mimeHint, err := attachment.ValidateMimeHint(c.FormValue("mime_hint"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, err.Error())
	}

	var rawKeys []recipientKeyEntry
	if err := json.Unmarshal([]byte(c.FormValue("recipient_keys")), &rawKeys); err != nil || len(rawKeys) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput,
			"recipient_keys must be a JSON array of {recipient_id, wrapped_key}")
	}
	recipientKeys := make([]attachment.RecipientKey, 0, len(rawKeys))
	for _, rk := range rawKeys {
		recipientID, err := uuid.Parse(rk.RecipientID)
		if err != nil || rk.WrappedKey == "" {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "invalid recipient_keys entry")
		}
		recipientKeys = append(recipientKeys, attachment.RecipientKey{RecipientID: recipientID, WrappedKey: rk.WrappedKey})
	}

	f, err := fh.Open()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to open uploaded ciphertext")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	defer func() { _ = f.Close() }()

	storageKey := fmt.Sprintf("blobs/%s/%s", storagePrefix, uuid.New().String())
	if err := h.storage.Put(c.Context(), storageKey, f); err != nil {
		h.log.Error().Err(err).Msg("failed to write ciphertext to storage")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}

	blob, err := h.blobs.Create(c.Context(), attachment.CreateParams{
		OwnerID:       userID,
		Scope:         scope,
		IV:            iv,
		SHA256:        sha256Hex,
		StorageKey:    storageKey,
		SizeBytes:     fh.Size,
		MimeHint:      mimeHint,
		RecipientKeys: recipientKeys,
	})
	if err != nil {
		_ = h.storage.Delete(c.Context(), storageKey)
		return h.mapError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, toFileBlobMeta(blob))
}

// getDMFileMeta handles GET /api/v1/dm_files/:id/meta.
func (h *FileBlobHandler) getDMFileMeta(c fiber.Ctx) error {
	return h.getMeta(c, attachment.ScopeDM)
}

// getGroupFileMeta handles GET /api/v1/group_files/:id/meta.
func (h *FileBlobHandler) getGroupFileMeta(c fiber.Ctx) error {
	return h.getMeta(c, attachment.ScopeGroup)
}

func (h *FileBlobHandler) getMeta(c fiber.Ctx, scope attachment.Scope) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "invalid file id")
	}

	blob, err := h.blobs.Authorize(c.Context(), id, userID, scope)
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.Success(c, toFileBlobMeta(blob))
}

// getDMFileBlob handles GET /api/v1/dm_files/:id/blob.
func (h *FileBlobHandler) getDMFileBlob(c fiber.Ctx) error {
	return h.getBlob(c, attachment.ScopeDM)
}

// getGroupFileBlob handles GET /api/v1/group_files/:id/blob.
func (h *FileBlobHandler) getGroupFileBlob(c fiber.Ctx) error {
	return h.getBlob(c, attachment.ScopeGroup)
}

// getBlob streams the opaque ciphertext bytes, plus the caller's own wrapped data-encryption key so the client can
// decrypt without a second round trip. The owner is not necessarily a recipient, so their wrapped key may be absent.
func (h *FileBlobHandler) getBlob(c fiber.Ctx, scope attachment.Scope) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "invalid file id")
	}

	blob, err := h.blobs.Authorize(c.Context(), id, userID, scope)
	if err != nil {
		return h.mapError(c, err)
	}

	r, err := h.storage.Get(c.Context(), blob.StorageKey)
	if err != nil {
		h.log.Error().Err(err).Str("file_id", id.String()).Msg("failed to read ciphertext from storage")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	defer func() { _ = r.Close() }()

	if wrappedKey, err := h.blobs.WrappedKeyFor(c.Context(), id, userID); err == nil {
		c.Set("X-Wrapped-Key", wrappedKey)
	}
	c.Set(fiber.HeaderContentType, "application/octet-stream")
	return c.SendStream(r)
}

func toFileBlobMeta(b *attachment.FileBlob) fileBlobMeta {
	return fileBlobMeta{
		ID:        b.ID.String(),
		Scope:     string(b.Scope),
		IV:        b.IV,
		SHA256:    b.SHA256,
		SizeBytes: b.SizeBytes,
		MimeHint:  b.MimeHint,
		Pinned:    b.Pinned(),
	}
}

func (h *FileBlobHandler) mapError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, attachment.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "file not found")
	case errors.Is(err, attachment.ErrForbidden):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "not authorized to access this file")
	case errors.Is(err, attachment.ErrInvalidScope), errors.Is(err, attachment.ErrNoRecipients), errors.Is(err, attachment.ErrMimeHintLength):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, err.Error())
	default:
		h.log.Error().Err(err).Msg("unhandled file blob service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
}

package controller

import (
	"net/http"
	"strconv"
	"strings"

	"wbuoj/internal/judge/service"
	"wbuoj/internal/judge/session"
	"wbuoj/internal/judge/signer"
	appErr "wbuoj/pkg/errors"
	"wbuoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const sessionCookieName = "sid"

// JudgeController handles the compatibility HTTP surface spoken by judge
// worker daemons: login, the file manifest, signed downloads and artifact
// upload.
type JudgeController struct {
	judgeService *service.JudgeService
	sessions     *session.Store
	signer       *signer.Signer
	baseURL      string
}

// NewJudgeController creates a JudgeController. baseURL is the externally
// reachable prefix used in signed download links.
func NewJudgeController(judgeService *service.JudgeService, sessions *session.Store, linkSigner *signer.Signer, baseURL string) *JudgeController {
	return &JudgeController{
		judgeService: judgeService,
		sessions:     sessions,
		signer:       linkSigner,
		baseURL:      strings.TrimRight(baseURL, "/"),
	}
}

// Login authenticates a worker daemon and opens a session. The token is
// returned in the body and mirrored as a cookie.
func (h *JudgeController) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	secret := req.Secret
	if secret == "" {
		secret = req.Password
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || secret == "" {
		response.BadRequest(c, "Username and secret are required")
		return
	}

	if err := h.judgeService.Authenticate(username, secret); err != nil {
		response.Error(c, err)
		return
	}

	token := h.sessions.Create(username)
	ttl := h.sessions.TTL()
	c.SetCookie(sessionCookieName, token, int(ttl.Seconds()), "/", "", false, true)
	response.Success(c, LoginResponse{
		Token:     token,
		ExpiresIn: int64(ttl.Seconds()),
	})
}

// Logout closes the caller's session.
func (h *JudgeController) Logout(c *gin.Context) {
	if token := sessionToken(c); token != "" {
		h.sessions.Delete(token)
	}
	c.SetCookie(sessionCookieName, "", -1, "/", "", false, true)
	response.Success(c, nil)
}

// Files returns signed download links: either the source of one submission,
// or a problem's test files, optionally narrowed to the requested names.
func (h *JudgeController) Files(c *gin.Context) {
	var req FilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	if req.SubmissionID != "" {
		url, err := h.judgeService.SubmissionLink(c.Request.Context(), req.SubmissionID, h.linkBase(c))
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, gin.H{"submission_id": req.SubmissionID, "url": url})
		return
	}

	if req.ProblemCode <= 0 {
		response.BadRequest(c, "Submission id or problem number is required")
		return
	}
	files, err := h.judgeService.FileManifest(c.Request.Context(), req.ProblemCode, h.linkBase(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if len(req.Filenames) > 0 {
		files = filterManifest(files, req.Filenames)
	}
	response.Success(c, FilesResponse{ProblemCode: req.ProblemCode, Files: files})
}

func filterManifest(files []service.ManifestEntry, names []string) []service.ManifestEntry {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	out := make([]service.ManifestEntry, 0, len(names))
	for _, file := range files {
		if wanted[file.Name] {
			out = append(out, file)
		}
	}
	return out
}

// Storage serves a signed download. The signature is the sole authorization:
// no session is required, and a bad or expired signature is rejected before
// the target is even parsed.
func (h *JudgeController) Storage(c *gin.Context) {
	target := c.Query("target")
	name := c.Query("name")
	signature := c.Query("signature")
	expire, err := strconv.ParseInt(c.Query("expire"), 10, 64)
	if target == "" || signature == "" || err != nil {
		response.AbortWithErrorCode(c, appErr.LinkSignatureInvalid, "")
		return
	}

	if err := h.signer.Verify(target, expire, signature); err != nil {
		response.AbortWithError(c, err)
		return
	}

	parsed, err := signer.ParseTarget(target)
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	filename, content, err := h.judgeService.OpenTarget(c.Request.Context(), parsed)
	if err != nil {
		response.AbortWithError(c, err)
		return
	}
	if name != "" {
		filename = name
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/octet-stream", content)
}

// Upload accepts a judge-produced artifact for a submission. The body is the
// raw file content.
func (h *JudgeController) Upload(c *gin.Context) {
	submissionID := c.Query("sid")
	name := c.Query("name")
	if submissionID == "" || name == "" {
		response.BadRequest(c, "Submission id and file name are required")
		return
	}

	if err := h.judgeService.StoreArtifact(c.Request.Context(), submissionID, name, c.Request.Body); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Enqueue places a submission on the judge queue. Called by the submission
// service, not by workers.
func (h *JudgeController) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SubmissionID == "" {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	if err := h.judgeService.Enqueue(c.Request.Context(), req.SubmissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"submission_id": req.SubmissionID})
}

// linkBase resolves the prefix for signed links, preferring the configured
// public base URL over whatever host the request came in on.
func (h *JudgeController) linkBase(c *gin.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

// sessionToken extracts the session token from the Authorization header or
// the session cookie.
func sessionToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if cookie, err := c.Cookie(sessionCookieName); err == nil {
		return cookie
	}
	return ""
}

// SessionAuth guards worker endpoints: the caller must present either the
// static worker token or a live session token.
func SessionAuth(sessions *session.Store, workerToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			response.AbortWithErrorCode(c, appErr.WorkerUnauthorized, "")
			return
		}
		if workerToken != "" && token == workerToken {
			c.Next()
			return
		}
		if _, ok := sessions.Verify(token); ok {
			c.Next()
			return
		}
		response.AbortWithErrorCode(c, appErr.SessionInvalid, "")
	}
}

// InternalAuth guards service-to-service endpoints with a static token.
func InternalAuth(internalToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if internalToken == "" || token != internalToken {
			response.AbortWithErrorCode(c, appErr.Unauthorized, "")
			return
		}
		c.Next()
	}
}

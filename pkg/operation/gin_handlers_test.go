package operation_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/efortin/toolsift/pkg/operation"
	"github.com/gin-gonic/gin"
)

// MockManager implements the operation.Manager interface for testing
type MockManager struct {
	reloadError    error
	activityCalled bool
	reloadCalled   bool
}

func (m *MockManager) Reload(_ context.Context) error {
	m.reloadCalled = true
	return m.reloadError
}

func (m *MockManager) UpdateActivity() {
	m.activityCalled = true
}

var _ = Describe("GinHandler", func() {
	var (
		handler     *operation.GinHandler
		mockManager *MockManager
		router      *gin.Engine
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		mockManager = &MockManager{}
		handler = operation.NewGinHandler(mockManager)
		router = gin.New()
		router.POST("/operations/reload", handler.ReloadHandler)
	})

	Describe("ReloadHandler", func() {
		Context("when reload succeeds", func() {
			It("should return success response", func() {
				req := httptest.NewRequest(http.MethodPost, "/operations/reload", nil)
				w := httptest.NewRecorder()

				router.ServeHTTP(w, req)

				Expect(w.Code).To(Equal(http.StatusOK))
				Expect(w.Body.String()).To(ContainSubstring("success"))
				Expect(w.Body.String()).To(ContainSubstring("registry reloaded successfully"))
				Expect(mockManager.reloadCalled).To(BeTrue())
				Expect(mockManager.activityCalled).To(BeTrue())
			})
		})

		Context("when reload fails", func() {
			BeforeEach(func() {
				mockManager.reloadError = errors.New("tools file unreadable")
			})

			It("should return error response", func() {
				req := httptest.NewRequest(http.MethodPost, "/operations/reload", nil)
				w := httptest.NewRecorder()

				router.ServeHTTP(w, req)

				Expect(w.Code).To(Equal(http.StatusInternalServerError))
				Expect(w.Body.String()).To(ContainSubstring("error"))
				Expect(w.Body.String()).To(ContainSubstring("reload_failed"))
				Expect(mockManager.reloadCalled).To(BeTrue())
			})
		})

		Context("when the method is not POST", func() {
			It("should not route", func() {
				req := httptest.NewRequest(http.MethodGet, "/operations/reload", nil)
				w := httptest.NewRecorder()

				router.ServeHTTP(w, req)

				Expect(w.Code).To(Equal(http.StatusNotFound))
				Expect(mockManager.reloadCalled).To(BeFalse())
			})
		})
	})
})

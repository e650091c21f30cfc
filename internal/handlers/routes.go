package handlers

import (
	"github.com/Perfect-Match-Org/PMTI/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Routes struct {
	Survey         *SurveyHandler
	Realtime       *RealtimeHandler
	Auth           middleware.TokenValidator
	InternalAPIKey string
}

// Register mounts every endpoint on r.
func (rt Routes) Register(r gin.IRouter) {
	auth := middleware.JWTAuth(rt.Auth)

	r.GET("/realtime/survey/:id", auth, rt.Realtime.Subscribe)

	api := r.Group("/api")
	{
		survey := api.Group("/survey/:id")
		survey.Use(auth)
		{
			survey.GET("/status", rt.Survey.GetStatus)
			survey.POST("/submit", rt.Survey.Submit)
			survey.GET("/validate", rt.Survey.Validate)
			survey.POST("/abandon", rt.Survey.Abandon)
			survey.GET("/responses", rt.Survey.ListResponses)
		}

		api.GET("/surveys/count", rt.Survey.Count)

		internal := api.Group("/internal")
		internal.Use(middleware.InternalAuth(rt.InternalAPIKey))
		{
			internal.POST("/surveys", rt.Survey.Provision)
			internal.GET("/questions/:questionId/analytics", rt.Survey.QuestionAnalytics)
		}
	}
}

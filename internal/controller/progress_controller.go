package controller

import (
	"learnhub_backend/internal/service"
	"learnhub_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ProgressController struct {
	ProgressService *service.ProgressService
}

func NewProgressController(progressService *service.ProgressService) *ProgressController {
	return &ProgressController{ProgressService: progressService}
}

// QuizSubmitRequest answers 为 题目ID -> 选项ID
type QuizSubmitRequest struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

// @Summary 报名课程
// @Tags 学习进度
// @Security BearerAuth
// @Produce json
// @Param courseId path string true "课程ID"
// @Success 201 {object} util.Response
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/enroll [post]
func (c *ProgressController) Enroll(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	enrollment, created, err := c.ProgressService.Enroll(ctx.Request.Context(), user.UserID, ctx.Param("courseId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	if created {
		util.Created(ctx, enrollment)
		return
	}
	util.Success(ctx, enrollment)
}

// @Summary 获取课程进度
// @Tags 学习进度
// @Security BearerAuth
// @Produce json
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/progress [get]
func (c *ProgressController) GetProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	enrollment, err := c.ProgressService.GetEnrollment(ctx.Request.Context(), user.UserID, ctx.Param("courseId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, enrollment)
}

// @Summary 完成课时
// @Description 重复提交返回 alreadyCompleted，不会重复发放经验
// @Tags 学习进度
// @Security BearerAuth
// @Produce json
// @Param courseId path string true "课程ID"
// @Param moduleId path string true "模块ID"
// @Param lessonId path string true "课时ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/modules/{moduleId}/lessons/{lessonId}/complete [post]
func (c *ProgressController) CompleteLesson(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	outcome, err := c.ProgressService.CompleteLesson(
		ctx.Request.Context(),
		user.UserID,
		ctx.Param("courseId"),
		ctx.Param("moduleId"),
		ctx.Param("lessonId"),
	)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, outcome)
}

// @Summary 提交模块测验
// @Tags 学习进度
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param courseId path string true "课程ID"
// @Param moduleId path string true "模块ID"
// @Param body body QuizSubmitRequest true "答案"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/modules/{moduleId}/quiz [post]
func (c *ProgressController) SubmitQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req QuizSubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	outcome, err := c.ProgressService.SubmitQuiz(
		ctx.Request.Context(),
		user.UserID,
		ctx.Param("courseId"),
		ctx.Param("moduleId"),
		req.Answers,
	)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, outcome)
}

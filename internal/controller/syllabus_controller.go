package controller

import (
	"learnhub_backend/internal/service"
	"learnhub_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type SyllabusController struct {
	SyllabusService *service.SyllabusService
}

func NewSyllabusController(syllabusService *service.SyllabusService) *SyllabusController {
	return &SyllabusController{SyllabusService: syllabusService}
}

// @Summary 获取课程大纲
// @Tags 课程大纲
// @Produce json
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/courses/{courseId}/syllabus [get]
func (c *SyllabusController) GetSyllabus(ctx *gin.Context) {
	course, err := c.SyllabusService.GetSyllabus(ctx.Request.Context(), ctx.Param("courseId"))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, course)
}

// @Summary 重建课程大纲
// @Description 课程结构编辑后由内容管理端调用
// @Tags 课程大纲
// @Security BearerAuth
// @Produce json
// @Param courseId path string true "课程ID"
// @Success 200 {object} util.Response
// @Router /api/admin/courses/{courseId}/syllabus/rebuild [post]
func (c *SyllabusController) RebuildCourse(ctx *gin.Context) {
	res := c.SyllabusService.Rebuild(ctx.Request.Context(), ctx.Param("courseId"))
	if !res.Success {
		util.HandleError(ctx, res.Err)
		return
	}
	util.Success(ctx, res)
}

// @Summary 重建全部课程大纲
// @Tags 课程大纲
// @Security BearerAuth
// @Produce json
// @Success 200 {object} util.Response
// @Router /api/admin/syllabus/rebuild [post]
func (c *SyllabusController) RebuildAll(ctx *gin.Context) {
	results, err := c.SyllabusService.RebuildAll(ctx.Request.Context())
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	util.Success(ctx, gin.H{
		"results": results,
		"total":   len(results),
		"failed":  failed,
	})
}

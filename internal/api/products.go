package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"farmconnect/internal/models"
	"farmconnect/internal/service/directory"
)

type productRequest struct {
	Name              string `json:"name" binding:"required"`
	Description       string `json:"description"`
	PriceCents        int64  `json:"price_cents" binding:"gte=0"`
	QuantityAvailable int64  `json:"quantity_available" binding:"gte=0"`
}

func (h *Handler) createProduct(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	// role first, so buyers get 403 whatever they send
	if err := h.guard.AuthorizeRole(*user, models.RoleFarmer); err != nil {
		h.writeError(c, err)
		return
	}
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	product, err := h.directory.CreateProduct(c.Request.Context(), *user, directory.ProductInput{
		Name:              req.Name,
		Description:       req.Description,
		PriceCents:        req.PriceCents,
		QuantityAvailable: req.QuantityAvailable,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) listProducts(c *gin.Context) {
	var farmerID int64
	if raw := c.Query("farmer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid farmer id"})
			return
		}
		farmerID = id
	}
	products, err := h.directory.ListProducts(c.Request.Context(), farmerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if products == nil {
		products = []*models.Product{}
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	productID, ok := pathID(c, "product_id")
	if !ok {
		return
	}
	product, err := h.directory.GetProduct(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

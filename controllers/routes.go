package controllers

import (
	"github.com/gin-gonic/gin"

	"seed-order-service/middlewares"
)

// RegisterRoutes mounts the storefront routes publicly and everything else
// behind an admin token.
func RegisterRoutes(r gin.IRouter, oc *OrderController, jwtSecret string) {
	public := r.Group("/orders")
	{
		public.POST("", oc.CreateOrder)
		public.GET("/:id", oc.GetOrder)
		public.GET("/number/:orderNumber", oc.GetOrderByNumber)
	}

	admin := r.Group("", middlewares.AuthMiddleware(jwtSecret), middlewares.RequireRole(middlewares.RoleAdmin))
	{
		admin.GET("/orders", oc.ListOrders)
		admin.GET("/orders/statistics", oc.GetStatistics)
		admin.PUT("/orders/:id", oc.UpdateOrder)
		admin.PUT("/orders/:id/status", oc.UpdateOrderStatus)
		admin.DELETE("/orders/:id", oc.DeleteOrder)
		admin.POST("/dead-letter", oc.HandleDeadLetter)
	}
}

// Package node names the surface shared by components served over gin.
package node

import "github.com/gin-gonic/gin"

type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}

// Label renders n as "kind/id" for logs.
func Label(n Node) string {
	return n.Kind() + "/" + n.NodeID()
}

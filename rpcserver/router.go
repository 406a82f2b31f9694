package rpcserver

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rs/zerolog"

	"github.com/torkelrogstad/cusf-enforcer-mempool/netsync"
)

const (
	STRICT_TRANSPORT_SECURITY   = "strict-transport-security"
	CONTENT_SECURITY_POLICY     = "content-security-policy"
	VARY                        = "vary"
	ACCESS_CONTROL_ALLOW_ORIGIN = "access-control-allow-origin"
)

type Rpc struct {
	service *Service
	limit   *limiter.Limiter
}

func NewRpc(sync *netsync.MempoolSync) *Rpc {
	return &Rpc{
		service: NewService(sync),
		limit: tollbooth.NewLimiter(50,
			&limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour}),
	}
}

func (s *Rpc) Start(rpcUrl, rpcProxy, rpcLogFile string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	var writers []io.Writer
	if rpcLogFile != "" {
		exePath, _ := os.Executable()
		executableName := filepath.Base(exePath)
		executableName += ".rpc"
		fileHook, err := rotatelogs.New(
			rpcLogFile+"/"+executableName+".%Y%m%d%H%M.log",
			rotatelogs.WithLinkName(rpcLogFile+"/"+executableName+".log"),
			rotatelogs.WithMaxAge(7*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return fmt.Errorf("failed to create RotateFile hook, error %s", err)
		}
		writers = append(writers, fileHook)
	}
	writers = append(writers, os.Stdout)
	gin.DefaultWriter = io.MultiWriter(writers...)
	r.Use(logger.SetLogger(
		logger.WithLogger(logger.Fn(func(c *gin.Context, l zerolog.Logger) zerolog.Logger {
			return l
		})),
	))

	config := cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Length", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	config.OptionsResponseStatusCode = 200
	r.Use(cors.New(config))

	r.Use(func(c *gin.Context) {
		httpError := tollbooth.LimitByRequest(s.limit, c.Writer, c.Request)
		if httpError != nil {
			c.AbortWithStatusJSON(httpError.StatusCode, gin.H{"msg": httpError.Message})
			return
		}
		c.Next()
	})

	// common header
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set(VARY, "Origin")
		c.Writer.Header().Add(VARY, "Access-Control-Request-Method")
		c.Writer.Header().Add(VARY, "Access-Control-Request-Headers")

		c.Writer.Header().Set(
			CONTENT_SECURITY_POLICY,
			"default-src 'self'",
		)
		c.Writer.Header().Set(
			STRICT_TRANSPORT_SECURITY,
			"max-age=31536000; includeSubDomains; preload",
		)
		c.Writer.Header().Set(
			ACCESS_CONTROL_ALLOW_ORIGIN,
			"*",
		)
		c.Next()
	})

	s.service.InitRouter(r, rpcProxy)

	parts := strings.Split(rpcUrl, ":")
	var port string
	if len(parts) < 2 {
		rpcUrl += ":80"
		port = "80"
	} else {
		port = parts[1]
	}

	if err := checkPort(port); err != nil {
		return err
	}

	go r.Run(rpcUrl)
	return nil
}

func checkPort(port string) error {
	addr := fmt.Sprintf(":%s", port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %s is in use: %v", port, err)
	}
	l.Close()
	return nil
}

func (s *Service) InitRouter(r *gin.Engine, basePath string) {
	r.GET(basePath+"/health", s.getHealth)
	r.GET(basePath+"/tip", s.getTip)
	r.GET(basePath+"/mempool/txids", s.getMempoolTxids)
	r.GET(basePath+"/mempool/tx/:txid", s.getMempoolTx)
}

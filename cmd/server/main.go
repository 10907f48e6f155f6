// cmd/server is the main entrypoint for a KV store node.
//
// Configuration is entirely via flags so a single binary can serve any
// role in the cluster.
//
// Example — single node:
//
//	./server --id node1 --addr :8080 --data-dir /var/kvstore/node1
//
// Example — 3-node cluster:
//
//	./server --id node1 --addr :8080 --data-dir /tmp/n1 \
//	         --peers http://localhost:8081,http://localhost:8082
//	./server --id node2 --addr :8081 --data-dir /tmp/n2 \
//	         --peers http://localhost:8080,http://localhost:8082
//	./server --id node3 --addr :8082 --data-dir /tmp/n3 \
//	         --peers http://localhost:8080,http://localhost:8081
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"kvreplica/internal/api"
	"kvreplica/internal/cluster"
	"kvreplica/internal/indexer"
	"kvreplica/internal/store"
)

func main() {
	nodeID := flag.String("id", "node1", "Unique node identifier")
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/kvreplica", "Directory for WAL and snapshots")
	peersFlag := flag.String("peers", "", "Comma-separated base URLs of every other node, e.g. http://localhost:8081,http://localhost:8082")
	snapshotEvery := flag.Duration("snapshot-interval", 60*time.Second, "How often to take a background snapshot")
	debugFail := flag.Bool("debug-fail", false, "Inject a 1% simulated failure before every write's WAL append")
	flag.Parse()

	var peers []string
	if *peersFlag != "" {
		for _, p := range strings.Split(*peersFlag, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				peers = append(peers, p)
			}
		}
	}

	ix := indexer.New()
	engine, stats, err := store.Open(*dataDir, ix)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer engine.Close()
	log.Printf("node %s: recovered %d records (%d corrupt, skipped)", *nodeID, stats.Valid, stats.Corrupt)

	mgr := cluster.New(*nodeID, peers, engine)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	handler := api.NewHandler(engine, mgr, *nodeID, *debugFail)
	handler.Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"node": *nodeID, "status": "ok"})
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("node %s listening on %s (%d peers)", *nodeID, *addr, len(peers))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(*snapshotEvery)
		defer ticker.Stop()
		for range ticker.C {
			if err := engine.Snapshot(); err != nil {
				log.Printf("snapshot error: %v", err)
			} else {
				log.Printf("snapshot saved")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down node", *nodeID)
	mgr.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := engine.Snapshot(); err != nil {
		log.Printf("final snapshot error: %v", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}

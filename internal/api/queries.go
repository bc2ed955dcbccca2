package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleQuerySubscriptions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	rows, err := s.db.QueryContext(c.Request.Context(), `
		SELECT feed_id, source_id, subscribed_at, unsubscribed_at
		FROM subscriptions WHERE user_id = $1 ORDER BY subscribed_at`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rows.Close()

	out := []gin.H{}
	for rows.Next() {
		var feed, sourceID string
		var subscribedAt sql.NullTime
		var unsubscribedAt sql.NullTime
		if err := rows.Scan(&feed, &sourceID, &subscribedAt, &unsubscribedAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		entry := gin.H{"feed_id": feed, "source_id": sourceID, "subscribed_at": subscribedAt.Time}
		if unsubscribedAt.Valid {
			entry["unsubscribed_at"] = unsubscribedAt.Time
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

func (s *Server) handleQueryPlayStatuses(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	rows, err := s.db.QueryContext(c.Request.Context(), `
		SELECT feed_id, item_id, position, played, updated_at
		FROM play_statuses WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rows.Close()

	out := []gin.H{}
	for rows.Next() {
		var feed, item string
		var position int64
		var played bool
		var updatedAt sql.NullTime
		if err := rows.Scan(&feed, &item, &position, &played, &updatedAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, gin.H{"feed_id": feed, "item_id": item, "position": position, "played": played, "updated_at": updatedAt.Time})
	}
	c.JSON(http.StatusOK, gin.H{"play_statuses": out})
}

func (s *Server) handleQueryPlaylists(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	rows, err := s.db.QueryContext(c.Request.Context(), `
		SELECT playlist_id, name, description, is_public, deleted
		FROM playlists WHERE user_id = $1 ORDER BY name`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rows.Close()

	out := []gin.H{}
	for rows.Next() {
		var id, name, description string
		var isPublic, deleted bool
		if err := rows.Scan(&id, &name, &description, &isPublic, &deleted); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if deleted {
			continue
		}
		out = append(out, gin.H{"playlist_id": id, "name": name, "description": description, "is_public": isPublic})
	}
	c.JSON(http.StatusOK, gin.H{"playlists": out})
}

func (s *Server) handleQueryCollections(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	rows, err := s.db.QueryContext(c.Request.Context(), `
		SELECT collection_id, title, is_default, is_public, deleted
		FROM collections WHERE user_id = $1 ORDER BY is_default DESC, title`, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rows.Close()

	out := []gin.H{}
	for rows.Next() {
		var id, title string
		var isDefault, isPublic, deleted bool
		if err := rows.Scan(&id, &title, &isDefault, &isPublic, &deleted); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if deleted {
			continue
		}
		out = append(out, gin.H{"collection_id": id, "title": title, "is_default": isDefault, "is_public": isPublic})
	}
	c.JSON(http.StatusOK, gin.H{"collections": out})
}

func (s *Server) handleQueryFeedPopularity(c *gin.Context) {
	rows, err := s.db.QueryContext(c.Request.Context(), `
		SELECT feed_id, subscriber_count, play_count, save_count, share_count, score
		FROM feed_popularity ORDER BY score DESC LIMIT 100`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rows.Close()

	out := []gin.H{}
	for rows.Next() {
		var feed string
		var subs, plays, saves, shares, score int64
		if err := rows.Scan(&feed, &subs, &plays, &saves, &shares, &score); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, gin.H{
			"feed_id": feed, "subscriber_count": subs, "play_count": plays,
			"save_count": saves, "share_count": shares, "score": score,
		})
	}
	c.JSON(http.StatusOK, gin.H{"feeds": out})
}

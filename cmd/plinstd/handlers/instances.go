package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	apierr "github.com/fnndsc/plinst/pkg/api/types/errors"
	apiinstances "github.com/fnndsc/plinst/pkg/api/types/instances"
	"github.com/fnndsc/plinst/pkg/domain"
	domerr "github.com/fnndsc/plinst/pkg/domain/errors"
	"github.com/fnndsc/plinst/pkg/domain/instance/create"
	kdb "github.com/fnndsc/plinst/pkg/domain/instance/db"
	"github.com/fnndsc/plinst/pkg/domain/instance/reconcile"
	"github.com/fnndsc/plinst/pkg/utils/slices"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/singleflight"
)

// OwnerHeader carries the user name authenticated by the front proxy.
const OwnerHeader = "X-Remote-User"

func instanceId(c echo.Context, param string) (domain.InstanceID, error) {
	raw := c.Param(param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierr.BadRequest(`instance id should be a positive integer: "`+raw+`"`, err)
	}
	return domain.InstanceID(id), nil
}

func get(ctx context.Context, db kdb.Interface, id domain.InstanceID) (domain.PluginInstance, error) {
	found, err := db.Get(ctx, []domain.InstanceID{id})
	if err != nil {
		return domain.PluginInstance{}, err
	}
	pi, ok := found[id]
	if !ok {
		return domain.PluginInstance{}, apierr.NotFound()
	}
	return pi, nil
}

func CreateInstanceHandler(creator *create.Creator) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := c.Request().Header.Get(OwnerHeader)
		if owner == "" {
			return apierr.Unauthorized(OwnerHeader + " header is required")
		}

		body := apiinstances.CreateRequest{}
		if err := c.Bind(&body); err != nil {
			return apierr.BadRequest("request body should be a JSON of an instance", err)
		}

		req := create.Request{
			PluginId:        domain.PluginID(body.PluginId),
			Title:           body.Title,
			Owner:           owner,
			ComputeResource: body.ComputeResource,
			Limits: domain.LimitRequest{
				CPU: body.CPU, Memory: body.Memory, Workers: body.Workers, GPU: body.GPU,
			},
			Parameters: body.Parameters,
			FeedName:   body.FeedName,
		}
		if body.Previous != nil {
			prev := domain.InstanceID(*body.Previous)
			req.Previous = &prev
		}

		pi, err := creator.Create(c.Request().Context(), req)
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusCreated, apiinstances.ComposeDetail(pi))
	}
}

// GetInstanceHandler polls the instance, and then responds its detail.
//
// Concurrent requests for the same instance share one poll.
// Failures of polling are logged, and the detail stored is responded.
func GetInstanceHandler(
	db kdb.Interface,
	r *reconcile.Reconciler,
	group *singleflight.Group,
	param string,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := instanceId(c, param)
		if err != nil {
			return err
		}

		// detached from the first request, since others may be waiting for it.
		ctx := context.WithoutCancel(c.Request().Context())
		v, err, _ := group.Do(id.String(), func() (interface{}, error) {
			if _, perr := r.Poll(ctx, id); perr != nil && !errors.Is(perr, domerr.ErrMissing) {
				c.Logger().Warnf("instance %d: poll failed. responds the stored: %s", id, perr)
			}
			return get(ctx, db, id)
		})
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusOK, apiinstances.ComposeDetail(v.(domain.PluginInstance)))
	}
}

// UpdateInstanceHandler changes status of the instance by request.
//
// Only "cancelled" is accepted.
func UpdateInstanceHandler(db kdb.Interface, r *reconcile.Reconciler, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := instanceId(c, param)
		if err != nil {
			return err
		}

		body := apiinstances.UpdateRequest{}
		if err := c.Bind(&body); err != nil {
			return apierr.BadRequest("request body should be a JSON like {\"status\": \"cancelled\"}", err)
		}
		if status, err := domain.AsInstanceStatus(body.Status); err != nil || status != domain.Cancelled {
			return apierr.BadRequest(`status can be changed only to "cancelled"`, err)
		}

		ctx := c.Request().Context()
		if _, err := r.Cancel(ctx, id); err != nil {
			return apierr.FromError(err)
		}
		pi, err := get(ctx, db, id)
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusOK, apiinstances.ComposeDetail(pi))
	}
}

func GetInstanceFilesHandler(db kdb.Interface, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := instanceId(c, param)
		if err != nil {
			return err
		}
		ctx := c.Request().Context()
		if _, err := get(ctx, db, id); err != nil {
			return apierr.FromError(err)
		}
		files, err := db.Files(ctx, id)
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusOK, slices.Map(files, apiinstances.ComposeFile))
	}
}

// Package handler HTTP 接口
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/exchange/brokerage/internal/repository"
	"github.com/exchange/brokerage/internal/service"
	commonerrors "github.com/exchange/brokerage/pkg/errors"
	"github.com/exchange/brokerage/pkg/response"
)

const (
	headerCustomerID = "X-Customer-ID"
	headerAdminToken = "X-Admin-Token"

	defaultPageSize = 10

	// 下单请求体上限
	maxBodyBytes int64 = 64 << 10
)

// Handler 订单与资产接口
type Handler struct {
	orders     *service.OrderService
	engine     *service.MatchingEngine
	assets     *service.AssetService
	adminToken string
}

func New(orders *service.OrderService, engine *service.MatchingEngine, assets *service.AssetService, adminToken string) *Handler {
	return &Handler{orders: orders, engine: engine, assets: assets, adminToken: adminToken}
}

// Register 注册路由
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/order", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.createOrder(w, r)
		case http.MethodDelete:
			h.cancelOrder(w, r)
		case http.MethodGet:
			h.getOrder(w, r)
		default:
			methodNotAllowed(w)
		}
	})
	mux.HandleFunc("/v1/order/list", h.only(http.MethodGet, h.listOrders))
	mux.HandleFunc("/v1/order/match", h.only(http.MethodPost, h.matchOrder))
	mux.HandleFunc("/v1/asset/list", h.only(http.MethodGet, h.listAssets))
}

func (h *Handler) only(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			methodNotAllowed(w)
			return
		}
		next(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

// identity 请求方身份；管理员的 customerID 为其指定的目标客户，可为空
type identity struct {
	customerID string
	admin      bool
}

// requester 撤单/查询时的归属校验对象，管理员为 nil
func (id identity) requester() *string {
	if id.admin {
		return nil
	}
	return &id.customerID
}

func (h *Handler) identify(r *http.Request) (identity, error) {
	id := identity{customerID: strings.TrimSpace(r.Header.Get(headerCustomerID))}
	if token := r.Header.Get(headerAdminToken); token != "" {
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			return id, commonerrors.New(commonerrors.CodeUnauthenticated, "invalid admin token")
		}
		id.admin = true
		return id, nil
	}
	if id.customerID == "" {
		return id, commonerrors.Newf(commonerrors.CodeUnauthenticated, "%s header is required", headerCustomerID)
	}
	return id, nil
}

// target 下单/列表操作的客户，管理员必须通过头部指定
func (id identity) target() (string, error) {
	if id.customerID == "" {
		return "", commonerrors.Newf(commonerrors.CodeInvalidParam, "%s header is required", headerCustomerID)
	}
	return id.customerID, nil
}

type createOrderBody struct {
	AssetName string          `json:"assetName"`
	Side      string          `json:"side"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	id, err := h.identify(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	customerID, err := id.target()
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	var body createOrderBody
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.WriteErrorCode(w, r, commonerrors.CodeInvalidParam, "request body too large")
			return
		}
		response.WriteErrorCode(w, r, commonerrors.CodeInvalidParam, "invalid request body")
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), &service.CreateOrderRequest{
		CustomerID: customerID,
		AssetName:  body.AssetName,
		Side:       body.Side,
		Size:       body.Size,
		Price:      body.Price,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, order)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := h.identify(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	orderID, err := orderIDParam(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	if _, err := h.orders.CancelOrder(r.Context(), orderID, id.requester()); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := h.identify(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	orderID, err := orderIDParam(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID, id.requester())
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	id, err := h.identify(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	customerID, err := id.target()
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	q := r.URL.Query()
	page, err := pageParams(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	start, err := dateParam(q.Get("startDate"), "startDate")
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	end, err := dateParam(q.Get("endDate"), "endDate")
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), &service.ListOrdersRequest{
		CustomerID: customerID,
		StartDate:  start,
		EndDate:    end,
		PageNumber: page.Number,
		PageSize:   page.Size,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*repository.Order{}
	}
	response.JSON(w, http.StatusOK, orders)
}

func (h *Handler) matchOrder(w http.ResponseWriter, r *http.Request) {
	id, err := h.identify(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if !id.admin {
		response.WriteError(w, r, commonerrors.ErrPermissionDenied)
		return
	}
	orderID, err := orderIDParam(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	result, err := h.engine.Match(r.Context(), orderID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request) {
	id, err := h.identify(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	customerID, err := id.target()
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	page, err := pageParams(r)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	assets, err := h.assets.ListAssets(r.Context(), customerID, page)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	if assets == nil {
		assets = []*repository.Asset{}
	}
	response.JSON(w, http.StatusOK, assets)
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("orderId"))
	if raw == "" {
		return uuid.Nil, commonerrors.New(commonerrors.CodeInvalidParam, "orderId is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, commonerrors.Newf(commonerrors.CodeInvalidParam, "invalid orderId: %q", raw)
	}
	return id, nil
}

func pageParams(r *http.Request) (repository.Page, error) {
	q := r.URL.Query()
	page := repository.Page{Number: 0, Size: defaultPageSize}
	if v := q.Get("page_number"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, commonerrors.Newf(commonerrors.CodeInvalidParam, "invalid page_number: %q", v)
		}
		page.Number = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, commonerrors.Newf(commonerrors.CodeInvalidParam, "invalid page_size: %q", v)
		}
		page.Size = n
	}
	return page, nil
}

func dateParam(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, commonerrors.Newf(commonerrors.CodeInvalidParam, "invalid %s: %q (expected RFC 3339)", name, raw)
	}
	return t.UTC(), nil
}

// Package api holds the JSON handlers of the storefront and admin API.
package api

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/brokkr/internal/domain"
	"github.com/dukerupert/brokkr/internal/handler"
)

// multipartMemory is how much of an upload is buffered before spilling to disk.
const multipartMemory = 8 << 20

// ProductHandler serves the catalog, the stock ledger and image management.
type ProductHandler struct {
	products  domain.ProductService
	inventory domain.InventoryService
}

func NewProductHandler(products domain.ProductService, inventory domain.InventoryService) *ProductHandler {
	return &ProductHandler{products: products, inventory: inventory}
}

// productResponse adds the derived stock summary to a product.
type productResponse struct {
	*domain.Product
	Stock domain.StockInfo `json:"stock"`
}

func withStock(p *domain.Product) productResponse {
	return productResponse{Product: p, Stock: domain.ProductStockInfo(p)}
}

// List handles GET /products
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	const op = "api.products.list"

	limit, err := handler.QueryInt(r, op, "limit", 50)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	offset, err := handler.QueryInt(r, op, "offset", 0)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	products, err := h.products.ListProducts(r.Context(), domain.ProductFilter{
		SubCategoryID: r.URL.Query().Get("subCategoryId"),
		Limit:         min(limit, 200),
		Offset:        offset,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	out := make([]productResponse, 0, len(products))
	for i := range products {
		out = append(out, withStock(&products[i]))
	}
	handler.JSON(w, http.StatusOK, map[string]any{
		"products": out,
		"limit":    min(limit, 200),
		"offset":   offset,
	})
}

// Get handles GET /products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, withStock(p))
}

// Stock handles GET /products/{id}/stock
func (h *ProductHandler) Stock(w http.ResponseWriter, r *http.Request) {
	info, err := h.inventory.StockInfo(r.Context(), r.PathValue("id"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, info)
}

// VariantStock handles GET /products/{id}/stock/variant?items=a,b
// An untracked combination answers tracked=false with count 0, which
// storefronts show as always available.
func (h *ProductHandler) VariantStock(w http.ResponseWriter, r *http.Request) {
	avail, err := h.inventory.LookupVariantStock(r.Context(), r.PathValue("id"), splitItems(r.URL.Query().Get("items")))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, map[string]any{
		"key":       avail.Key,
		"count":     avail.Count,
		"tracked":   avail.Tracked,
		"unlimited": avail.Unlimited(),
	})
}

// splitItems parses a comma-separated item list, dropping blanks.
func splitItems(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Create handles POST /products
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input domain.ProductInput
	if err := handler.DecodeJSON(r, "api.products.create", &input); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	p, err := h.products.CreateProduct(r.Context(), input)
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	w.Header().Set("Location", "/products/"+p.ID)
	handler.JSON(w, http.StatusCreated, withStock(p))
}

// Update handles PUT /products/{id}
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input domain.ProductInput
	if err := handler.DecodeJSON(r, "api.products.update", &input); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	p, err := h.products.UpdateProduct(r.Context(), r.PathValue("id"), input)
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, withStock(p))
}

// Delete handles DELETE /products/{id}
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.products.DeleteProduct(r.Context(), r.PathValue("id")); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.NoContent(w)
}

// AddImage handles POST /products/{id}/images. A multipart body uploads the
// "file" part to storage; a JSON body references an existing URL.
func (h *ProductHandler) AddImage(w http.ResponseWriter, r *http.Request) {
	const op = "api.products.add_image"

	var params domain.AddImageParams
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, op, "invalid multipart body: %v", err))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			handler.ValidationErrorResponse(w, r, domain.NewValidationError(op, "file", "is required"))
			return
		}
		defer file.Close()

		params.Upload = &domain.ImageUpload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        file,
		}
		params.MappedVariants = r.MultipartForm.Value["mappedVariants"]
		if raw := r.FormValue("order"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				handler.ValidationErrorResponse(w, r, domain.NewValidationError(op, "order", "must be an integer"))
				return
			}
			params.SortOrder = &n
		}
	} else if err := handler.DecodeJSON(r, op, &params); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	img, err := h.products.AddImage(r.Context(), r.PathValue("id"), params)
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusCreated, img)
}

type mapImagesRequest struct {
	Mappings []domain.ImageMapping `json:"mappings"`
}

// MapImages handles POST /products/{id}/images/map
func (h *ProductHandler) MapImages(w http.ResponseWriter, r *http.Request) {
	var req mapImagesRequest
	if err := handler.DecodeJSON(r, "api.products.map_images", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	p, err := h.products.MapImages(r.Context(), r.PathValue("id"), req.Mappings)
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, withStock(p))
}

// Combinations handles GET /products/{id}/combinations
func (h *ProductHandler) Combinations(w http.ResponseWriter, r *http.Request) {
	combos, err := h.products.Combinations(r.Context(), r.PathValue("id"))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, map[string]any{"combinations": combos})
}

type setStockRequest struct {
	VariantStock []domain.VariantStock `json:"variantStock"`
}

// SetStock handles PUT /products/{id}/stock. The body replaces the whole ledger.
func (h *ProductHandler) SetStock(w http.ResponseWriter, r *http.Request) {
	var req setStockRequest
	if err := handler.DecodeJSON(r, "api.products.set_stock", &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	p, err := h.products.SetVariantStock(r.Context(), r.PathValue("id"), req.VariantStock)
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	handler.JSON(w, http.StatusOK, withStock(p))
}
